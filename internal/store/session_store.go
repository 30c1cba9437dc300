package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"chatrelay/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUserIDEmpty     = errors.New("user id is required for session save")
)

const keyRoot = "sessions"

// Store maps (userID, sessionID) pairs to session records in a remote
// object store. Loads degrade to ErrSessionNotFound on any failure so the
// caller can proceed with a fresh session; saves fail loudly because silent
// transcript loss is unacceptable.
type Store struct {
	objects ObjectStore
	logger  *slog.Logger
}

func New(objects ObjectStore, logger *slog.Logger) *Store {
	return &Store{objects: objects, logger: logger}
}

// ObjectKey namespaces both identifiers under the session root. Both parts
// are percent-encoded so user-supplied IDs cannot escape the namespace.
func ObjectKey(userID, sessionID string) string {
	return keyRoot + "/" + url.PathEscape(userID) + "/" + url.PathEscape(sessionID)
}

// Load fetches and decodes the record for the given identity pair. A missing
// object, an unreachable store, and an undecodable blob all resolve to
// ErrSessionNotFound; only the latter two are logged.
func (s *Store) Load(ctx context.Context, userID, sessionID string) (*model.SessionRecord, error) {
	raw, err := s.objects.Get(ctx, ObjectKey(userID, sessionID))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		s.logger.Warn("session load failed, starting fresh",
			"user_id", userID, "session_id", sessionID, "error", err)
		return nil, ErrSessionNotFound
	}

	// chat_history is decoded separately so a malformed value is coerced to
	// empty instead of discarding the whole record.
	var envelope struct {
		SessionID   string          `json:"session_id"`
		UserID      string          `json:"user_id"`
		ChatHistory json.RawMessage `json:"chat_history"`
		CreatedAt   time.Time       `json:"created_at"`
		LastUpdated time.Time       `json:"last_updated"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logger.Warn("session blob undecodable, starting fresh",
			"user_id", userID, "session_id", sessionID, "error", err)
		return nil, ErrSessionNotFound
	}

	record := &model.SessionRecord{
		SessionID:   envelope.SessionID,
		UserID:      envelope.UserID,
		ChatHistory: []model.Turn{},
		CreatedAt:   envelope.CreatedAt,
		LastUpdated: envelope.LastUpdated,
	}
	if len(envelope.ChatHistory) > 0 {
		var history []model.Turn
		if err := json.Unmarshal(envelope.ChatHistory, &history); err != nil {
			s.logger.Warn("chat history malformed, coerced to empty",
				"user_id", userID, "session_id", sessionID, "error", err)
		} else if history != nil {
			record.ChatHistory = history
		}
	}
	return record, nil
}

// Save overwrites the record as a single JSON object. LastUpdated is stamped
// on every save; CreatedAt is preserved when already set. Write failures
// propagate to the caller.
func (s *Store) Save(ctx context.Context, userID, sessionID string, record *model.SessionRecord) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDEmpty
	}

	record.SessionID = sessionID
	record.UserID = userID
	if record.ChatHistory == nil {
		record.ChatHistory = []model.Turn{}
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.LastUpdated = now

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record failed: %w", err)
	}
	if err := s.objects.Put(ctx, ObjectKey(userID, sessionID), payload, "application/json"); err != nil {
		return fmt.Errorf("write session %s failed: %w", sessionID, err)
	}
	return nil
}
