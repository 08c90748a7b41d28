package web

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tyemirov/tgcalendar/internal/calendarkit"
)

type createUserRequest struct {
	ChatID   int64  `json:"chat_id" binding:"required"`
	Nick     string `json:"nick"`
	Email    string `json:"email"`
	GoogleID string `json:"google_id"`
}

type rangeRequest struct {
	ChatID int64     `json:"chat_id" binding:"required"`
	Start  time.Time `json:"start" binding:"required"`
	End    time.Time `json:"end" binding:"required"`
}

type createEventRequest struct {
	ChatID      int64     `json:"chat_id" binding:"required"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TimeZone    string    `json:"time_zone"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Attendees   []string  `json:"attendees"`
}

func (request createEventRequest) input() calendarkit.EventInput {
	return calendarkit.EventInput{
		Title:       request.Title,
		Start:       request.Start,
		End:         request.End,
		TimeZone:    request.TimeZone,
		Description: request.Description,
		Location:    request.Location,
		Attendees:   request.Attendees,
	}
}

type updateEventRequest struct {
	ChatID      int64      `json:"chat_id" binding:"required"`
	Title       string     `json:"title"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
	TimeZone    string     `json:"time_zone"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
}

func (request updateEventRequest) patch() calendarkit.EventPatch {
	return calendarkit.EventPatch{
		Title:       strings.TrimSpace(request.Title),
		Start:       request.Start,
		End:         request.End,
		TimeZone:    request.TimeZone,
		Description: request.Description,
		Location:    request.Location,
	}
}

func parseChatID(raw string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("web.chat_id %q: %w", raw, calendarkit.ErrValidation)
	}
	return chatID, nil
}

// parseDaysAhead accepts a positive day count or a time frame name; an empty
// value selects the service default.
func parseDaysAhead(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if frame, ok := calendarkit.ParseTimeFrame(raw); ok {
		return frame.Days(), nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		return 0, fmt.Errorf("web.days_ahead %q: %w", raw, calendarkit.ErrValidation)
	}
	return days, nil
}
