package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataTokenSource(t *testing.T) {
	t.Parallel()

	t.Run("fetches and caches per audience", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, "Google", r.Header.Get("Metadata-Flavor"))
			_, _ = w.Write([]byte("tok-for-" + r.URL.Query().Get("audience") + "\n"))
		}))
		defer srv.Close()

		src := NewMetadataTokenSource(srv.URL)
		ctx := context.Background()

		tok, err := src.Token(ctx, "https://svc.example")
		require.NoError(t, err)
		assert.Equal(t, "tok-for-https://svc.example", tok)

		again, err := src.Token(ctx, "https://svc.example")
		require.NoError(t, err)
		assert.Equal(t, tok, again)
		assert.Equal(t, int32(1), calls.Load(), "second request served from cache")

		_, err = src.Token(ctx, "https://other.example")
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("non-200 bubbles up", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no default credentials", http.StatusNotFound)
		}))
		defer srv.Close()

		src := NewMetadataTokenSource(srv.URL)
		_, err := src.Token(context.Background(), "aud")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("empty token is an error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("  \n"))
		}))
		defer srv.Close()

		src := NewMetadataTokenSource(srv.URL)
		_, err := src.Token(context.Background(), "aud")
		require.Error(t, err)
	})
}
