package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenSource supplies short-lived bearer credentials scoped to the
// upstream service's address.
type TokenSource interface {
	Token(ctx context.Context, audience string) (string, error)
}

const defaultIdentityEndpoint = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/identity"

// Tokens are reused well inside their one-hour validity.
const tokenReuseWindow = 45 * time.Minute

// MetadataTokenSource fetches identity tokens from the ambient metadata
// service, caching one per audience. Failures bubble up unretried; the
// caller decides how a missing credential affects the request.
type MetadataTokenSource struct {
	httpClient *http.Client
	endpoint   string

	mu     sync.Mutex
	cached map[string]cachedToken
}

type cachedToken struct {
	value     string
	fetchedAt time.Time
}

func NewMetadataTokenSource(endpoint string) *MetadataTokenSource {
	if endpoint == "" {
		endpoint = defaultIdentityEndpoint
	}
	return &MetadataTokenSource{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   endpoint,
		cached:     make(map[string]cachedToken),
	}
}

func (s *MetadataTokenSource) Token(ctx context.Context, audience string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.cached[audience]; ok && time.Since(tok.fetchedAt) < tokenReuseWindow {
		return tok.value, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.endpoint+"?audience="+url.QueryEscape(audience), nil)
	if err != nil {
		return "", fmt.Errorf("build token request failed: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", errors.New("token endpoint returned an empty token")
	}
	s.cached[audience] = cachedToken{value: token, fetchedAt: time.Now()}
	return token, nil
}
