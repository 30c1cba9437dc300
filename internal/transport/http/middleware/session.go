package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay/internal/model"
	"chatrelay/internal/pkg/cookiesign"
	"chatrelay/internal/store"
)

const (
	// ContextSessionKey is where the resolved session handle is attached.
	ContextSessionKey = "chat_session"

	// IdentityHeader carries the caller-supplied user identifier. It is
	// trusted as given; authenticating it is someone else's job.
	IdentityHeader = "X-User-ID"
)

// SessionOptions configures cookie issuance for the resolver.
type SessionOptions struct {
	CookieName string
	Secret     string
	MaxAge     time.Duration
	Secure     bool
}

// ResolveSession binds every request to a session handle before the
// handlers run:
//
//   - no identity header: a throwaway handle whose save is a no-op; the
//     request continues rather than being rejected
//   - signed cookie verifies and the record loads: session resumed
//   - signed cookie verifies but the record is gone: same session ID,
//     fresh record, no new cookie (the browser already holds this ID)
//   - no cookie or verification failure: new ID, fresh record, new cookie
func ResolveSession(sessions *store.Store, opts SessionOptions, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(IdentityHeader))
		if userID == "" {
			c.Set(ContextSessionKey, sessions.NewDetachedHandle(uuid.NewString()))
			c.Next()
			return
		}

		if raw, err := c.Cookie(opts.CookieName); err == nil {
			if sessionID, ok := cookiesign.Unsign(raw, opts.Secret); ok {
				record, loadErr := sessions.Load(c.Request.Context(), userID, sessionID)
				if errors.Is(loadErr, store.ErrSessionNotFound) {
					record = model.NewSessionRecord(sessionID, userID)
				}
				c.Set(ContextSessionKey, sessions.NewHandle(userID, record))
				c.Next()
				return
			}
			logger.Warn("session cookie failed verification, starting a new session",
				"user_id", userID)
		}

		sessionID := uuid.NewString()
		setSessionCookie(c, opts, cookiesign.Sign(sessionID, opts.Secret))
		c.Set(ContextSessionKey, sessions.NewHandle(userID, model.NewSessionRecord(sessionID, userID)))
		c.Next()
	}
}

func setSessionCookie(c *gin.Context, opts SessionOptions, value string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(opts.CookieName, value, int(opts.MaxAge.Seconds()), "/", "", opts.Secure, true)
}

// SessionFromContext retrieves the handle the resolver attached.
func SessionFromContext(c *gin.Context) (*store.Handle, bool) {
	value, exists := c.Get(ContextSessionKey)
	if !exists {
		return nil, false
	}
	handle, ok := value.(*store.Handle)
	return handle, ok
}
