// Package relay invokes the upstream model service and reconciles its
// token stream into client-facing events and a committed transcript.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/model"
)

// Message is one role-tagged entry in the upstream message sequence.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// GenStats are the generation statistics the upstream reports alongside its
// terminal marker.
type GenStats struct {
	EvalCount       int64 `json:"eval_count"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
	TotalDuration   int64 `json:"total_duration"`
}

// ChatRequest carries one prompt plus the conversation context it extends.
type ChatRequest struct {
	Model   string
	Prompt  string
	History []model.Turn
	Images  [][]byte
}

// Client performs the upstream calls. The sync and stream paths use
// separate HTTP clients: the sync call is bounded end to end, while the
// stream client bounds only connection setup and response headers, since
// total generation time is open-ended.
type Client struct {
	syncClient   *http.Client
	streamClient *http.Client
}

func NewClient(syncTimeout, setupTimeout time.Duration) *Client {
	if syncTimeout <= 0 {
		syncTimeout = 90 * time.Second
	}
	if setupTimeout <= 0 {
		setupTimeout = 30 * time.Second
	}
	return &Client{
		syncClient: &http.Client{Timeout: syncTimeout},
		streamClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: setupTimeout,
			},
		},
	}
}

// BuildMessages translates history into the upstream's ordered message
// sequence. Each past turn becomes a user message followed by an assistant
// message, except turns that ended in error, which contribute only the user
// message: a broken assistant turn is never replayed as context. The current
// prompt, with any attached images base64-encoded, is appended last.
func BuildMessages(history []model.Turn, prompt string, images [][]byte) []Message {
	messages := make([]Message, 0, 2*len(history)+1)
	for _, turn := range history {
		messages = append(messages, Message{Role: "user", Content: turn.Prompt})
		if turn.Error != "" {
			continue
		}
		messages = append(messages, Message{Role: "assistant", Content: turn.Response})
	}

	current := Message{Role: "user", Content: prompt}
	for _, img := range images {
		current.Images = append(current.Images, base64.StdEncoding.EncodeToString(img))
	}
	return append(messages, current)
}

type chatPayload struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Invoke performs a single blocking chat call and returns the assistant's
// full response text. Non-2xx responses and network failures both normalize
// into a descriptive error; a well-formed error body is preserved verbatim.
func (c *Client) Invoke(ctx context.Context, serviceURL, token string, req ChatRequest) (string, error) {
	body, err := c.do(ctx, c.syncClient, serviceURL, token, req, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read upstream response failed: %w", err)
	}

	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse upstream response failed: %w", err)
	}
	return parsed.Message.Content, nil
}

// InvokeStream requests an incremental response and returns the live byte
// stream. A rejection before any streaming begins (status >= 400) is raised
// synchronously; once streaming has begun, errors surface through reads on
// the returned handle.
func (c *Client) InvokeStream(ctx context.Context, serviceURL, token string, req ChatRequest) (io.ReadCloser, error) {
	return c.do(ctx, c.streamClient, serviceURL, token, req, true)
}

func (c *Client) do(ctx context.Context, client *http.Client, serviceURL, token string, req ChatRequest, stream bool) (io.ReadCloser, error) {
	payload := chatPayload{
		Model:    req.Model,
		Messages: BuildMessages(req.History, req.Prompt, req.Images),
		Stream:   stream,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build upstream request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}
