package domain

import "time"

// UsageRecord describes one completed dispatch for usage accounting.
type UsageRecord struct {
	RequestID  string
	Route      string
	Type       string
	SessionID  string
	UserID     string
	TraceID    string
	Status     int
	Flags      []string
	ReceivedAt time.Time
	Duration   time.Duration
}
