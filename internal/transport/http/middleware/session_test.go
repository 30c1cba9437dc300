package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/model"
	"chatrelay/internal/pkg/cookiesign"
	"chatrelay/internal/store"
)

const testSecret = "test-secret"

type countingObjects struct {
	*store.MemoryObjectStore
	puts int
}

func (c *countingObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	c.puts++
	return c.MemoryObjectStore.Put(ctx, key, data, contentType)
}

func newResolverRouter(t *testing.T) (*gin.Engine, *store.Store, *countingObjects, **store.Handle) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	objects := &countingObjects{MemoryObjectStore: store.NewMemoryObjectStore()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := store.New(objects, logger)

	var resolved *store.Handle
	router := gin.New()
	router.Use(ResolveSession(sessions, SessionOptions{
		CookieName: "chat_session",
		Secret:     testSecret,
		MaxAge:     7 * 24 * time.Hour,
	}, logger))
	router.GET("/probe", func(c *gin.Context) {
		handle, ok := SessionFromContext(c)
		require.True(t, ok)
		resolved = handle
		c.Status(http.StatusNoContent)
	})
	return router, sessions, objects, &resolved
}

func TestResolveSessionNoIdentity(t *testing.T) {
	t.Parallel()

	router, _, objects, resolved := newResolverRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	handle := *resolved
	require.NotNil(t, handle)
	assert.Empty(t, handle.UserID)

	handle.Append(model.Turn{Prompt: "p", Response: "r"})
	require.NoError(t, handle.Save(context.Background()))
	assert.Zero(t, objects.puts, "no-identity sessions never persist")
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}

func TestResolveSessionNoCookieMintsNewSession(t *testing.T) {
	t.Parallel()

	router, _, _, resolved := newResolverRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(IdentityHeader, "alice")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	handle := *resolved
	assert.Equal(t, "alice", handle.UserID)
	assert.NotEmpty(t, handle.ID)
	assert.Empty(t, *handle.History)

	setCookie := w.Header().Get("Set-Cookie")
	require.NotEmpty(t, setCookie)
	assert.Contains(t, setCookie, "chat_session=")
	assert.Contains(t, setCookie, "HttpOnly")
	assert.Contains(t, setCookie, "SameSite=Lax")
	assert.Contains(t, setCookie, "Max-Age=604800")

	// the issued cookie verifies and carries the resolved session ID
	value := strings.TrimPrefix(strings.Split(setCookie, ";")[0], "chat_session=")
	decoded, err := unescapeCookie(value)
	require.NoError(t, err)
	sid, ok := cookiesign.Unsign(decoded, testSecret)
	require.True(t, ok)
	assert.Equal(t, handle.ID, sid)
}

func TestResolveSessionResumesExisting(t *testing.T) {
	t.Parallel()

	router, sessions, objects, resolved := newResolverRouter(t)

	record := model.NewSessionRecord("sid-9", "alice")
	record.ChatHistory = append(record.ChatHistory, model.Turn{Prompt: "a", Response: "b"})
	require.NoError(t, sessions.Save(context.Background(), "alice", "sid-9", record))
	objects.puts = 0

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(IdentityHeader, "alice")
	req.AddCookie(&http.Cookie{Name: "chat_session", Value: cookiesign.Sign("sid-9", testSecret)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	handle := *resolved
	assert.Equal(t, "sid-9", handle.ID)
	require.Len(t, *handle.History, 1)
	assert.Equal(t, "a", (*handle.History)[0].Prompt)
	assert.Empty(t, w.Header().Get("Set-Cookie"), "resumed sessions need no new cookie")
}

func TestResolveSessionLoadMissReinitializesSameID(t *testing.T) {
	t.Parallel()

	router, _, _, resolved := newResolverRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(IdentityHeader, "alice")
	req.AddCookie(&http.Cookie{Name: "chat_session", Value: cookiesign.Sign("sid-gone", testSecret)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	handle := *resolved
	assert.Equal(t, "sid-gone", handle.ID, "the browser already advertised this ID")
	assert.Empty(t, *handle.History)
	assert.Empty(t, w.Header().Get("Set-Cookie"), "ID unchanged, no cookie to reissue")
}

func TestResolveSessionInvalidCookieStartsFresh(t *testing.T) {
	t.Parallel()

	router, _, _, resolved := newResolverRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(IdentityHeader, "alice")
	req.AddCookie(&http.Cookie{Name: "chat_session", Value: "sid-x.forged-signature"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	handle := *resolved
	assert.NotEqual(t, "sid-x", handle.ID, "tampered IDs are never reused")
	assert.NotEmpty(t, w.Header().Get("Set-Cookie"), "a fresh signed cookie is issued")
}

// gin url-escapes cookie values on write; undo that for verification.
func unescapeCookie(value string) (string, error) {
	return url.QueryUnescape(value)
}
