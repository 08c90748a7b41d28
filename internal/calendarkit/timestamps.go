package calendarkit

import "time"

// NormalizeForStorage converts an expiry to the UTC wall clock kept in
// storage. UTC input is returned unchanged.
func NormalizeForStorage(expiry *time.Time) *time.Time {
	if expiry == nil {
		return nil
	}
	normalized := expiry.UTC()
	return &normalized
}

// NormalizeFromStorage attaches UTC to a stored wall clock. Values that
// already carry a non-zero offset pass through unchanged.
func NormalizeFromStorage(expiry *time.Time) *time.Time {
	if expiry == nil {
		return nil
	}
	if _, offset := expiry.Zone(); offset != 0 {
		passed := *expiry
		return &passed
	}
	wall := *expiry
	normalized := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), time.UTC)
	return &normalized
}
