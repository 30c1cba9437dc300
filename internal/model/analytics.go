package model

import "time"

// AnalyticsEvent is one per-request reporting record. Events are published
// fire-and-forget from the request path and persisted asynchronously by the
// analytics worker.
type AnalyticsEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	RequestID       string    `gorm:"size:64;index" json:"request_id"`
	SessionID       string    `gorm:"size:128;index" json:"session_id"`
	PromptLength    int       `json:"prompt_length"`
	ResponseLength  int       `json:"response_length"`
	ImageCount      int       `json:"image_count"`
	DurationMS      int64     `json:"duration_ms"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message,omitempty"`
	EvalCount       int64     `json:"eval_count,omitempty"`
	PromptEvalCount int64     `json:"prompt_eval_count,omitempty"`
	TotalDurationNS int64     `json:"total_duration_ns,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
