package web

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tgcalendar/internal/calendarkit"
	"github.com/tyemirov/tgcalendar/internal/store"
	"go.uber.org/zap"
)

// SuccessPath is where the OAuth callback redirects after a grant.
const SuccessPath = "/calendar/success"

// Transactor opens the short storage transactions used by the services.
type Transactor interface {
	calendarkit.Transactor
	Kind() store.Kind
}

// MetricsSnapshotter exposes counters on the health route.
type MetricsSnapshotter interface {
	Snapshot() calendarkit.MetricsSnapshot
}

// Dependencies are the collaborators shared by every handler.
type Dependencies struct {
	Database Transactor
	Runtime  *calendarkit.Runtime
	Metrics  MetricsSnapshotter
	Logger   *zap.Logger
}

type handlers struct {
	Dependencies
}

// MountCalendarRoutes registers the /calendar API and /healthz.
func MountCalendarRoutes(router gin.IRouter, dependencies Dependencies) {
	if dependencies.Database == nil || dependencies.Runtime == nil {
		panic("web: database and runtime are required")
	}
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	routes := &handlers{Dependencies: dependencies}

	router.GET("/healthz", routes.health)

	calendarGroup := router.Group("/calendar")
	calendarGroup.GET("/auth_url", routes.authURL)
	calendarGroup.GET("/oauth/callback", routes.oauthCallback)
	calendarGroup.GET("/success", routes.success)
	calendarGroup.DELETE("/revoke_access", routes.revokeAccess)

	calendarGroup.GET("/users/:chat_id", routes.getUser)
	calendarGroup.POST("/users", routes.createUser)

	calendarGroup.GET("/events", routes.listEvents)
	calendarGroup.GET("/events/search", routes.searchEvents)
	calendarGroup.POST("/events/range", routes.eventsInRange)
	calendarGroup.POST("/events", routes.createEvent)
	calendarGroup.GET("/events/:event_id", routes.getEvent)
	calendarGroup.PATCH("/events/:event_id", routes.updateEvent)
	calendarGroup.DELETE("/events/:event_id", routes.deleteEvent)
}

// run executes work against a facade and reports its error as a JSON
// response. The facade opens its own short transactions, so no storage
// session is held while Google is called.
func (routes *handlers) run(contextGin *gin.Context, work func(facade *calendarkit.Facade) error) bool {
	if err := work(routes.Runtime.NewFacade(routes.Database)); err != nil {
		respondError(contextGin, routes.Logger, err)
		return false
	}
	return true
}

// runAuthorized is run preceded by a credential check for chatID.
func (routes *handlers) runAuthorized(contextGin *gin.Context, chatID int64, work func(facade *calendarkit.Facade) error) bool {
	return routes.run(contextGin, func(facade *calendarkit.Facade) error {
		usable, err := facade.LoadCredentials(contextGin.Request.Context(), chatID)
		if err != nil {
			return err
		}
		if !usable {
			return fmt.Errorf("web.preflight: %w", calendarkit.ErrNoCredentials)
		}
		return work(facade)
	})
}

func (routes *handlers) queryChatID(contextGin *gin.Context) (int64, bool) {
	chatID, err := parseChatID(contextGin.Query("chat_id"))
	if err != nil {
		respondError(contextGin, routes.Logger, err)
		return 0, false
	}
	return chatID, true
}

func (routes *handlers) bindJSON(contextGin *gin.Context, target any) bool {
	if err := contextGin.ShouldBindJSON(target); err != nil {
		respondError(contextGin, routes.Logger, fmt.Errorf("web.bind: %w: %w", calendarkit.ErrValidation, err))
		return false
	}
	return true
}

func (routes *handlers) health(contextGin *gin.Context) {
	payload := gin.H{"status": "ok", "backend": routes.Database.Kind()}
	if routes.Metrics != nil {
		payload["metrics"] = routes.Metrics.Snapshot()
	}
	contextGin.JSON(http.StatusOK, payload)
}

func (routes *handlers) authURL(contextGin *gin.Context) {
	chatID, ok := routes.queryChatID(contextGin)
	if !ok {
		return
	}
	var consentURL string
	if !routes.run(contextGin, func(facade *calendarkit.Facade) error {
		issued, err := facade.AuthorizationURL(contextGin.Request.Context(), chatID)
		consentURL = issued
		return err
	}) {
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"auth_url": consentURL})
}

func (routes *handlers) oauthCallback(contextGin *gin.Context) {
	code := contextGin.Query("code")
	state := contextGin.Query("state")
	var chatID int64
	if !routes.run(contextGin, func(facade *calendarkit.Facade) error {
		authorized, err := facade.HandleCallback(contextGin.Request.Context(), code, state)
		chatID = authorized
		return err
	}) {
		return
	}
	routes.Logger.Info("oauth callback completed", zap.Int64("chat_id", chatID))
	contextGin.Redirect(http.StatusFound, SuccessPath)
}

func (routes *handlers) success(contextGin *gin.Context) {
	contextGin.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Google Calendar is connected. You can return to the chat.",
	})
}

func (routes *handlers) revokeAccess(contextGin *gin.Context) {
	chatID, ok := routes.queryChatID(contextGin)
	if !ok {
		return
	}
	if !routes.run(contextGin, func(facade *calendarkit.Facade) error {
		revoked, err := facade.RevokeAccess(contextGin.Request.Context(), chatID)
		if err != nil {
			return err
		}
		if !revoked {
			return fmt.Errorf("web.revoke: %w", calendarkit.ErrUserNotFound)
		}
		return nil
	}) {
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (routes *handlers) getUser(contextGin *gin.Context) {
	chatID, err := parseChatID(contextGin.Param("chat_id"))
	if err != nil {
		respondError(contextGin, routes.Logger, err)
		return
	}
	var profile calendarkit.UserProfile
	if !routes.run(contextGin, func(facade *calendarkit.Facade) error {
		profile, err = facade.GetUser(contextGin.Request.Context(), chatID)
		return err
	}) {
		return
	}
	contextGin.JSON(http.StatusOK, profile)
}

func (routes *handlers) createUser(contextGin *gin.Context) {
	var request createUserRequest
	if !routes.bindJSON(contextGin, &request) {
		return
	}
	var profile calendarkit.UserProfile
	if !routes.run(contextGin, func(facade *calendarkit.Facade) error {
		created, err := facade.CreateUser(contextGin.Request.Context(), calendarkit.NewUserRequest{
			ChatID:   request.ChatID,
			Nick:     request.Nick,
			Email:    request.Email,
			GoogleID: request.GoogleID,
		})
		profile = created
		return err
	}) {
		return
	}
	contextGin.JSON(http.StatusOK, profile)
}

func (routes *handlers) listEvents(contextGin *gin.Context) {
	chatID, ok := routes.queryChatID(contextGin)
	if !ok {
		return
	}
	daysAhead, err := parseDaysAhead(contextGin.Query("days_ahead"))
	if err != nil {
		respondError(contextGin, routes.Logger, err)
		return
	}
	var events []calendarkit.Event
	if !routes.runAuthorized(contextGin, chatID, func(facade *calendarkit.Facade) error {
		events, err = facade.ListEvents(contextGin.Request.Context(), chatID, daysAhead)
		return err
	}) {
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"events": events})
}

func (routes *handlers) searchEvents(contextGin *gin.Context) {
	chatID, ok := routes.queryChatID(contextGin)
	if !ok {
		return
	}
	daysAhead, err := parseDaysAhead(contextGin.Query("days_ahead"))
	if err != nil {
		respondError(contextGin, routes.Logger, err)
		return
	}
	query := contextGin.Query("query")
	var events []calendarkit.Event
	if !routes.runAuthorized(contextGin, chatID, func(facade *calendarkit.Facade) error {
		events, err = facade.SearchEvents(contextGin.Request.Context(), chatID, query, daysAhead)
		return err
	}) {
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"events": events})
}

func (routes *handlers) eventsInRange(contextGin *gin.Context) {
	var request rangeRequest
	if !routes.bindJSON(contextGin, &request) {
		return
	}
	if !request.End.After(request.Start) {
		respondError(contextGin, routes.Logger, fmt.Errorf("web.range.end_before_start: %w", calendarkit.ErrValidation))
		return
	}
	var events []calendarkit.Event
	if !routes.runAuthorized(contextGin, request.ChatID, func(facade *calendarkit.Facade) error {
		var err error
		events, err = facade.EventsInRange(contextGin.Request.Context(), request.ChatID, calendarkit.TimeRange{Start: request.Start, End: request.End})
		return err
	}) {
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"events": events})
}

func (routes *handlers) getEvent(contextGin *gin.Context) {
	chatID, ok := routes.queryChatID(contextGin)
	if !ok {
		return
	}
	eventID := contextGin.Param("event_id")
	var event calendarkit.Event
	if !routes.runAuthorized(contextGin, chatID, func(facade *calendarkit.Facade) error {
		var err error
		event, err = facade.GetEvent(contextGin.Request.Context(), chatID, eventID)
		return err
	}) {
		return
	}
	contextGin.JSON(http.StatusOK, event)
}

func (routes *handlers) createEvent(contextGin *gin.Context) {
	var request createEventRequest
	if !routes.bindJSON(contextGin, &request) {
		return
	}
	var event calendarkit.Event
	if !routes.runAuthorized(contextGin, request.ChatID, func(facade *calendarkit.Facade) error {
		var err error
		event, err = facade.CreateEvent(contextGin.Request.Context(), request.ChatID, request.input())
		return err
	}) {
		return
	}
	contextGin.JSON(http.StatusCreated, event)
}

func (routes *handlers) updateEvent(contextGin *gin.Context) {
	var request updateEventRequest
	if !routes.bindJSON(contextGin, &request) {
		return
	}
	eventID := contextGin.Param("event_id")
	var event calendarkit.Event
	if !routes.runAuthorized(contextGin, request.ChatID, func(facade *calendarkit.Facade) error {
		var err error
		event, err = facade.UpdateEvent(contextGin.Request.Context(), request.ChatID, eventID, request.patch())
		return err
	}) {
		return
	}
	contextGin.JSON(http.StatusOK, event)
}

func (routes *handlers) deleteEvent(contextGin *gin.Context) {
	chatID, ok := routes.queryChatID(contextGin)
	if !ok {
		return
	}
	eventID := contextGin.Param("event_id")
	if !routes.runAuthorized(contextGin, chatID, func(facade *calendarkit.Facade) error {
		return facade.DeleteEvent(contextGin.Request.Context(), chatID, eventID)
	}) {
		return
	}
	contextGin.Status(http.StatusNoContent)
}
