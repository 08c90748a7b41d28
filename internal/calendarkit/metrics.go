package calendarkit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Domain events counted by Increment.
const (
	MetricAuthURLIssued         = "oauth.auth_url_issued"
	MetricCallbackRejected      = "oauth.callback_rejected"
	MetricAccessRevoked         = "oauth.access_revoked"
	MetricReauthorizationNeeded = "credentials.reauthorization_required"
	MetricListTruncated         = "calendar.list_truncated"
)

// Remote operations observed by ObserveCall. Calendar API calls are named
// "calendar.<method>".
const (
	CallCodeExchange = "oauth.exchange"
	CallTokenRefresh = "oauth.refresh"
)

func calendarCall(method string) string {
	return "calendar." + method
}

// MetricsRecorder counts domain events and remote call outcomes.
type MetricsRecorder interface {
	Increment(event string)
	ObserveCall(operation string, elapsed time.Duration, err error)
}

// CallStats summarizes the remote calls of one operation.
type CallStats struct {
	Calls         int64 `json:"calls"`
	Failures      int64 `json:"failures"`
	Timeouts      int64 `json:"timeouts"`
	TotalMillis   int64 `json:"total_ms"`
	SlowestMillis int64 `json:"slowest_ms"`
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Events map[string]int64     `json:"events"`
	Calls  map[string]CallStats `json:"calls"`
}

// CalendarMetrics implements MetricsRecorder in memory.
type CalendarMetrics struct {
	mutex  sync.Mutex
	events map[string]int64
	calls  map[string]CallStats
}

// NewCalendarMetrics constructs an empty recorder.
func NewCalendarMetrics() *CalendarMetrics {
	return &CalendarMetrics{events: make(map[string]int64), calls: make(map[string]CallStats)}
}

// Increment counts one domain event.
func (recorder *CalendarMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.events[event]++
}

// ObserveCall records one finished remote call. Timeouts are counted apart
// from other failures.
func (recorder *CalendarMetrics) ObserveCall(operation string, elapsed time.Duration, err error) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	stats := recorder.calls[operation]
	stats.Calls++
	switch {
	case err == nil:
	case errors.Is(err, ErrUpstreamTimeout):
		stats.Timeouts++
	default:
		stats.Failures++
	}
	millis := elapsed.Milliseconds()
	stats.TotalMillis += millis
	if millis > stats.SlowestMillis {
		stats.SlowestMillis = millis
	}
	recorder.calls[operation] = stats
}

// Count returns the count of a domain event.
func (recorder *CalendarMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.events[event]
}

// Calls returns the call summary of an operation.
func (recorder *CalendarMetrics) Calls(operation string) CallStats {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.calls[operation]
}

// Snapshot copies every counter.
func (recorder *CalendarMetrics) Snapshot() MetricsSnapshot {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	snapshot := MetricsSnapshot{
		Events: make(map[string]int64, len(recorder.events)),
		Calls:  make(map[string]CallStats, len(recorder.calls)),
	}
	for event, count := range recorder.events {
		snapshot.Events[event] = count
	}
	for operation, stats := range recorder.calls {
		snapshot.Calls[operation] = stats
	}
	return snapshot
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

func (noopMetrics) ObserveCall(string, time.Duration, error) {}

// observe submits task to the worker pool and records its outcome under operation.
func observe[T any](ctx context.Context, runtime *Runtime, operation string, task func(ctx context.Context) (T, error)) (T, error) {
	started := time.Now()
	result, err := Submit(ctx, runtime.pool, task)
	runtime.metrics.ObserveCall(operation, time.Since(started), err)
	return result, err
}
