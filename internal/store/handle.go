package store

import (
	"context"

	"chatrelay/internal/model"
)

// Handle is the request-scoped view of a resolved session. It is the single
// path through which the session may be mutated for the lifetime of one
// request: handler code appends turns through it and calls Save once. Save
// closes over the resolved identity so callers never re-specify it.
type Handle struct {
	ID      string
	UserID  string
	History *[]model.Turn

	record  *model.SessionRecord
	store   *Store
	persist bool
}

// NewHandle binds a loaded or freshly initialized record to its identity.
func (s *Store) NewHandle(userID string, record *model.SessionRecord) *Handle {
	return &Handle{
		ID:      record.SessionID,
		UserID:  userID,
		History: &record.ChatHistory,
		record:  record,
		store:   s,
		persist: true,
	}
}

// NewDetachedHandle produces the throwaway session used when a request
// carries no identity header. The request proceeds normally but Save is a
// logged no-op, since nothing ties the session to a user.
func (s *Store) NewDetachedHandle(sessionID string) *Handle {
	record := model.NewSessionRecord(sessionID, "")
	return &Handle{
		ID:      sessionID,
		History: &record.ChatHistory,
		record:  record,
		store:   s,
		persist: false,
	}
}

// Append adds a completed turn to the in-memory history. The turn is not
// persisted until Save is called.
func (h *Handle) Append(turn model.Turn) {
	*h.History = append(*h.History, turn)
}

// Save persists the session under its resolved identity. On a detached
// handle it only logs; persistence must always be attributable to a user.
func (h *Handle) Save(ctx context.Context) error {
	if !h.persist {
		h.store.logger.Warn("session save skipped: request carried no user identity",
			"session_id", h.ID)
		return nil
	}
	return h.store.Save(ctx, h.UserID, h.ID, h.record)
}
