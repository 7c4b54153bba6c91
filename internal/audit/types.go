package audit

import (
	"time"
)

// Meta identifies the request an event belongs to
type Meta struct {
	RequestID string
	SessionID string
	Provider  string
}

// MaskingEvent records one masked value. Originals are never stored.
type MaskingEvent struct {
	ID          int64     `db:"id" json:"id"`
	RequestID   string    `db:"request_id" json:"request_id"`
	SessionID   string    `db:"session_id" json:"session_id,omitempty"`
	Provider    string    `db:"provider" json:"provider,omitempty"`
	Category    string    `db:"category" json:"category"`
	Placeholder string    `db:"placeholder" json:"placeholder"`
	Confidence  string    `db:"confidence" json:"confidence"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// LeakageEvent records one leakage warning raised on a response
type LeakageEvent struct {
	ID          int64     `db:"id" json:"id"`
	RequestID   string    `db:"request_id" json:"request_id"`
	SessionID   string    `db:"session_id" json:"session_id,omitempty"`
	Provider    string    `db:"provider" json:"provider,omitempty"`
	Kind        string    `db:"kind" json:"kind"`
	Severity    string    `db:"severity" json:"severity"`
	Category    string    `db:"category" json:"category"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// CategoryCount is one row of a per-category aggregate
type CategoryCount struct {
	Category string `db:"category" json:"category"`
	Count    int64  `db:"count" json:"count"`
}

// Summary aggregates the audit trail since a point in time
type Summary struct {
	Since        time.Time       `json:"since"`
	TotalMasked  int64           `json:"total_masked"`
	TotalLeakage int64           `json:"total_leakage"`
	ByCategory   []CategoryCount `json:"by_category"`
}

// BatchResult represents the result of a batch insert
type BatchResult struct {
	Inserted int64         `json:"inserted"`
	Duration time.Duration `json:"duration"`
}
