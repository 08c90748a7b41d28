package calendarkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
)

const calendarDateLayout = "2006-01-02"

var errMalformedEvent = errors.New("calendar.event.malformed")

// TimeFrame is a named look-ahead window in days.
type TimeFrame int

const (
	TimeFrameDay   TimeFrame = 1
	TimeFrameWeek  TimeFrame = 7
	TimeFrameMonth TimeFrame = 30
	TimeFrameYear  TimeFrame = 365
)

// ParseTimeFrame resolves day, week, month or year.
func ParseTimeFrame(name string) (TimeFrame, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "day":
		return TimeFrameDay, true
	case "week":
		return TimeFrameWeek, true
	case "month":
		return TimeFrameMonth, true
	case "year":
		return TimeFrameYear, true
	default:
		return 0, false
	}
}

// Days returns the window length.
func (frame TimeFrame) Days() int {
	return int(frame)
}

// EventTime is either an all-day date or a timestamp with its zone.
type EventTime struct {
	Date     string     `json:"date,omitempty"`
	DateTime *time.Time `json:"date_time,omitempty"`
	TimeZone string     `json:"time_zone,omitempty"`
}

// EventPerson identifies the creator or organizer of an event.
type EventPerson struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Self        bool   `json:"self,omitempty"`
}

// Event is a normalized calendar event.
type Event struct {
	ID          string       `json:"id"`
	Status      string       `json:"status,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	HTMLLink    string       `json:"html_link,omitempty"`
	Start       EventTime    `json:"start"`
	End         EventTime    `json:"end"`
	Creator     *EventPerson `json:"creator,omitempty"`
	Organizer   *EventPerson `json:"organizer,omitempty"`
	Attendees   []string     `json:"attendees,omitempty"`
}

// TimeRange bounds a range query.
type TimeRange struct {
	Start time.Time `validate:"required"`
	End   time.Time `validate:"required,gtfield=Start"`
}

// EventInput describes an event to create.
type EventInput struct {
	Title       string    `validate:"required,min=1"`
	Start       time.Time `validate:"required"`
	End         time.Time `validate:"required,gtfield=Start"`
	TimeZone    string
	Description string
	Location    string
	Attendees   []string `validate:"omitempty,dive,email"`
}

// EventPatch lists the fields to change on an existing event. An empty title
// and nil pointers leave the current values in place.
type EventPatch struct {
	Title       string
	Start       *time.Time
	End         *time.Time
	TimeZone    string
	Description *string
	Location    *string
}

func normalizeEvent(raw *calendar.Event) (Event, error) {
	if raw == nil || raw.Id == "" {
		return Event{}, fmt.Errorf("%w: missing id", errMalformedEvent)
	}
	start, err := normalizeEventTime(raw.Start)
	if err != nil {
		return Event{}, err
	}
	end, err := normalizeEventTime(raw.End)
	if err != nil {
		return Event{}, err
	}
	event := Event{
		ID:          raw.Id,
		Status:      raw.Status,
		Summary:     raw.Summary,
		Description: raw.Description,
		Location:    raw.Location,
		HTMLLink:    raw.HtmlLink,
		Start:       start,
		End:         end,
	}
	if raw.Creator != nil {
		event.Creator = &EventPerson{Email: raw.Creator.Email, DisplayName: raw.Creator.DisplayName, Self: raw.Creator.Self}
	}
	if raw.Organizer != nil {
		event.Organizer = &EventPerson{Email: raw.Organizer.Email, DisplayName: raw.Organizer.DisplayName, Self: raw.Organizer.Self}
	}
	for _, attendee := range raw.Attendees {
		if attendee != nil && attendee.Email != "" {
			event.Attendees = append(event.Attendees, attendee.Email)
		}
	}
	return event, nil
}

func normalizeEventTime(raw *calendar.EventDateTime) (EventTime, error) {
	if raw == nil {
		return EventTime{}, nil
	}
	normalized := EventTime{TimeZone: raw.TimeZone}
	if raw.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, raw.DateTime)
		if err != nil {
			return EventTime{}, fmt.Errorf("%w: dateTime %q", errMalformedEvent, raw.DateTime)
		}
		normalized.DateTime = &parsed
	}
	if raw.Date != "" {
		if _, err := time.Parse(calendarDateLayout, raw.Date); err != nil {
			return EventTime{}, fmt.Errorf("%w: date %q", errMalformedEvent, raw.Date)
		}
		normalized.Date = raw.Date
	}
	return normalized, nil
}

// normalizeEvents drops malformed items.
func normalizeEvents(logger *zap.Logger, items []*calendar.Event) []Event {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		event, err := normalizeEvent(item)
		if err != nil {
			logger.Warn("skipping malformed calendar event",
				zap.String("code", "calendar.event.malformed"),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events
}

func eventDateTime(moment time.Time, timeZone string) *calendar.EventDateTime {
	if timeZone == "" {
		timeZone = "UTC"
	}
	return &calendar.EventDateTime{DateTime: moment.Format(time.RFC3339), TimeZone: timeZone}
}
