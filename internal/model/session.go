package model

import "time"

// Turn is one prompt/response exchange in a session's history. A completed
// turn carries exactly one of Response or Error; an unfinished turn is never
// part of history.
type Turn struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SessionRecord is the persisted state for one (user, session) pair. It is
// written as a single JSON object, full-object overwrite on every save.
type SessionRecord struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ChatHistory []Turn    `json:"chat_history"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewSessionRecord returns a freshly initialized record with empty history.
func NewSessionRecord(sessionID, userID string) *SessionRecord {
	return &SessionRecord{
		SessionID:   sessionID,
		UserID:      userID,
		ChatHistory: []Turn{},
	}
}
