package calendarkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

const (
	primaryCalendarID       = "primary"
	defaultListWindowDays   = 7
	defaultSearchWindowDays = 30
	listPageSize            = 250
	listPageLimit           = 8
)

// CalendarService performs Calendar API operations for a user.
type CalendarService struct {
	runtime     *Runtime
	credentials *CredentialsManager
}

// ListEvents returns the events starting within daysAhead days.
func (service *CalendarService) ListEvents(ctx context.Context, userID int64, daysAhead int) ([]Event, error) {
	if daysAhead <= 0 {
		daysAhead = defaultListWindowDays
	}
	now := service.runtime.clock.Now()
	return service.listWindow(ctx, userID, "", now, now.AddDate(0, 0, daysAhead))
}

// SearchEvents runs a free-text query over the next daysAhead days.
func (service *CalendarService) SearchEvents(ctx context.Context, userID int64, query string, daysAhead int) ([]Event, error) {
	if daysAhead <= 0 {
		daysAhead = defaultSearchWindowDays
	}
	now := service.runtime.clock.Now()
	return service.listWindow(ctx, userID, query, now, now.AddDate(0, 0, daysAhead))
}

// EventsInRange returns the events between start and end.
func (service *CalendarService) EventsInRange(ctx context.Context, userID int64, start time.Time, end time.Time) ([]Event, error) {
	return service.listWindow(ctx, userID, "", start, end)
}

// GetEvent fetches one event.
func (service *CalendarService) GetEvent(ctx context.Context, userID int64, eventID string) (Event, error) {
	api, err := service.credentials.GetService(ctx, userID)
	if err != nil {
		return Event{}, err
	}
	raw, err := call(ctx, service, "get", func(callCtx context.Context) (*calendar.Event, error) {
		return api.Events.Get(primaryCalendarID, eventID).Context(callCtx).Do()
	})
	if err != nil {
		return Event{}, err
	}
	return service.normalize(raw)
}

// CreateEvent inserts an event into the primary calendar.
func (service *CalendarService) CreateEvent(ctx context.Context, userID int64, input EventInput) (Event, error) {
	api, err := service.credentials.GetService(ctx, userID)
	if err != nil {
		return Event{}, err
	}
	body := &calendar.Event{
		Summary:     input.Title,
		Description: input.Description,
		Location:    input.Location,
		Start:       eventDateTime(input.Start, input.TimeZone),
		End:         eventDateTime(input.End, input.TimeZone),
	}
	for _, email := range input.Attendees {
		body.Attendees = append(body.Attendees, &calendar.EventAttendee{Email: email})
	}
	raw, err := call(ctx, service, "insert", func(callCtx context.Context) (*calendar.Event, error) {
		return api.Events.Insert(primaryCalendarID, body).Context(callCtx).Do()
	})
	if err != nil {
		return Event{}, err
	}
	service.runtime.logger.Info("calendar event created", zap.Int64("user_id", userID), zap.String("event_id", raw.Id))
	return service.normalize(raw)
}

// UpdateEvent fetches the event, merges patch onto it and writes it back.
func (service *CalendarService) UpdateEvent(ctx context.Context, userID int64, eventID string, patch EventPatch) (Event, error) {
	api, err := service.credentials.GetService(ctx, userID)
	if err != nil {
		return Event{}, err
	}
	current, err := call(ctx, service, "get", func(callCtx context.Context) (*calendar.Event, error) {
		return api.Events.Get(primaryCalendarID, eventID).Context(callCtx).Do()
	})
	if err != nil {
		return Event{}, err
	}
	if patch.Title != "" {
		current.Summary = patch.Title
	}
	if patch.Description != nil {
		current.Description = *patch.Description
	}
	if patch.Location != nil {
		current.Location = *patch.Location
	}
	if patch.Start != nil {
		current.Start = eventDateTime(*patch.Start, patch.TimeZone)
	}
	if patch.End != nil {
		current.End = eventDateTime(*patch.End, patch.TimeZone)
	}
	raw, err := call(ctx, service, "update", func(callCtx context.Context) (*calendar.Event, error) {
		return api.Events.Update(primaryCalendarID, eventID, current).Context(callCtx).Do()
	})
	if err != nil {
		return Event{}, err
	}
	return service.normalize(raw)
}

// DeleteEvent removes an event.
func (service *CalendarService) DeleteEvent(ctx context.Context, userID int64, eventID string) error {
	api, err := service.credentials.GetService(ctx, userID)
	if err != nil {
		return err
	}
	_, err = call(ctx, service, "delete", func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, api.Events.Delete(primaryCalendarID, eventID).Context(callCtx).Do()
	})
	return err
}

// listWindow follows page tokens until the window is exhausted or
// listPageLimit pages were read; a window cut short is logged and counted.
func (service *CalendarService) listWindow(ctx context.Context, userID int64, query string, start time.Time, end time.Time) ([]Event, error) {
	api, err := service.credentials.GetService(ctx, userID)
	if err != nil {
		return nil, err
	}
	var items []*calendar.Event
	pageToken := ""
	for page := 0; page < listPageLimit; page++ {
		request := api.Events.List(primaryCalendarID).
			TimeMin(start.UTC().Format(time.RFC3339)).
			TimeMax(end.UTC().Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(listPageSize)
		if query != "" {
			request = request.Q(query)
		}
		if pageToken != "" {
			request = request.PageToken(pageToken)
		}
		listed, listErr := call(ctx, service, "list", func(callCtx context.Context) (*calendar.Events, error) {
			return request.Context(callCtx).Do()
		})
		if listErr != nil {
			return nil, listErr
		}
		items = append(items, listed.Items...)
		pageToken = listed.NextPageToken
		if pageToken == "" {
			return normalizeEvents(service.runtime.logger, items), nil
		}
	}
	service.runtime.metrics.Increment(MetricListTruncated)
	service.runtime.logger.Warn("calendar list truncated",
		zap.String("code", "calendar.api.list_truncated"),
		zap.Int64("user_id", userID),
		zap.Int("events", len(items)))
	return normalizeEvents(service.runtime.logger, items), nil
}

func (service *CalendarService) normalize(raw *calendar.Event) (Event, error) {
	event, err := normalizeEvent(raw)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return event, nil
}

// call runs one Calendar API request in the worker pool and classifies its failure.
func call[T any](ctx context.Context, service *CalendarService, operation string, request func(context.Context) (T, error)) (T, error) {
	runtime := service.runtime
	result, err := observe(ctx, runtime, calendarCall(operation), request)
	if err == nil {
		return result, nil
	}
	var zero T
	if errors.Is(err, ErrUpstreamTimeout) {
		runtime.logger.Warn("calendar call timed out",
			zap.String("code", "calendar.api.timeout"),
			zap.String("operation", operation))
		return zero, err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound, http.StatusGone:
			return zero, fmt.Errorf("calendar.api.%s: %w", operation, ErrEventNotFound)
		case http.StatusUnauthorized:
			return zero, fmt.Errorf("calendar.api.%s: %w", operation, ErrReauthorizationRequired)
		}
	}
	runtime.logger.Error("calendar call failed",
		zap.String("code", "calendar.api.failed"),
		zap.String("operation", operation),
		zap.Error(err))
	return zero, fmt.Errorf("%w: %w", ErrUpstream, err)
}
