package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatrelay/internal/analytics"
	"chatrelay/internal/model"
	"chatrelay/internal/relay"
	"chatrelay/internal/store"
)

var (
	ErrPromptEmpty   = errors.New("prompt is empty")
	ErrNoValidImages = errors.New("attached files contained no valid images")
	ErrSessionSave   = errors.New("session save failed")
	ErrUpstream      = errors.New("upstream call failed")
)

// ChatService relays prompts to the upstream model service and commits the
// resulting turn back through the session handle. Whatever path a request
// takes, success, upstream error, or setup failure, exactly one turn is
// appended and one save is attempted.
type ChatService struct {
	client     *relay.Client
	tokens     relay.TokenSource
	sink       analytics.Sink
	serviceURL string
	model      string
	audience   string
	streamCap  time.Duration
	logger     *slog.Logger
}

type ChatServiceConfig struct {
	ServiceURL string
	Model      string
	Audience   string
	// StreamCap bounds one stream's total lifetime. Generation time has no
	// per-request deadline, so this is the only upper bound on a stream.
	StreamCap time.Duration
}

func NewChatService(
	client *relay.Client,
	tokens relay.TokenSource,
	sink analytics.Sink,
	cfg ChatServiceConfig,
	logger *slog.Logger,
) *ChatService {
	if cfg.Audience == "" {
		cfg.Audience = cfg.ServiceURL
	}
	if cfg.StreamCap <= 0 {
		cfg.StreamCap = 10 * time.Minute
	}
	if sink == nil {
		sink = analytics.NopSink{}
	}
	return &ChatService{
		client:     client,
		tokens:     tokens,
		sink:       sink,
		serviceURL: cfg.ServiceURL,
		model:      cfg.Model,
		audience:   cfg.Audience,
		streamCap:  cfg.StreamCap,
		logger:     logger,
	}
}

// ChatInput is one prompt plus whatever images came attached to it.
type ChatInput struct {
	RequestID string
	Prompt    string
	Images    [][]byte
	// AttachedCount is how many files arrived with the request, including
	// ones that could not be read or were not images. It keeps the history
	// marker and analytics honest when the attachment phase itself failed
	// and Images stayed empty.
	AttachedCount int
}

func (in ChatInput) attachmentCount() int {
	if in.AttachedCount > len(in.Images) {
		return in.AttachedCount
	}
	return len(in.Images)
}

// displayPrompt is what gets persisted in history: the prompt text with a
// marker for attached images, which themselves are never persisted.
func (in ChatInput) displayPrompt() string {
	n := in.attachmentCount()
	if n == 0 {
		return in.Prompt
	}
	return fmt.Sprintf("%s [%d image(s) attached]", in.Prompt, n)
}

// StreamEvents receives the client-facing event stream. Any callback may
// return an error to signal the client is gone; the relay keeps draining so
// the turn is still recorded with whatever content was received.
type StreamEvents struct {
	OnDelta func(text string) error
	OnDone  func(full string) error
	OnError func(message string) error
}

// StreamChat relays one prompt as an incremental stream. All terminal paths
// converge on commitTurn, which appends exactly one turn and attempts
// exactly one save.
func (s *ChatService) StreamChat(ctx context.Context, sess *store.Handle, in ChatInput, out StreamEvents) {
	started := time.Now()

	if strings.TrimSpace(in.Prompt) == "" {
		// Rejected before any upstream call; no turn is recorded.
		_ = out.OnError(ErrPromptEmpty.Error())
		return
	}

	token, err := s.tokens.Token(ctx, s.audience)
	if err != nil {
		s.commitTurn(ctx, sess, in, relay.Outcome{Err: fmt.Errorf("acquire upstream credential failed: %w", err)}, out, false, started)
		return
	}

	// The upstream stream is detached from the request context so a client
	// disconnect cannot prevent the turn from being recorded; streamCap
	// bounds the drain instead.
	streamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.streamCap)
	defer cancel()

	body, err := s.client.InvokeStream(streamCtx, s.serviceURL, token, relay.ChatRequest{
		Model:   s.model,
		Prompt:  in.Prompt,
		History: *sess.History,
		Images:  in.Images,
	})
	if err != nil {
		s.commitTurn(ctx, sess, in, relay.Outcome{Err: err}, out, false, started)
		return
	}
	defer body.Close()

	clientGone := false
	forward := func(deliver func() error) {
		if clientGone {
			return
		}
		if err := deliver(); err != nil {
			clientGone = true
			s.logger.Info("client disconnected mid-stream, draining upstream",
				"request_id", in.RequestID, "session_id", sess.ID)
		}
	}

	rec := relay.NewReconciler(s.logger, relay.Events{
		OnDelta: func(text string) {
			forward(func() error { return out.OnDelta(text) })
		},
		OnDone: func(full string, _ *relay.GenStats) {
			forward(func() error { return out.OnDone(full) })
		},
	})

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for scanner.Scan() {
		rec.FeedLine(scanner.Bytes())
	}
	outcome := rec.Finish(scanner.Err())

	s.commitTurn(ctx, sess, in, outcome, out, clientGone, started)
}

// commitTurn is the single terminal path for a streamed request: append the
// turn, attempt the save, surface a trailing error event when the stream is
// still writable, and report the request to analytics.
func (s *ChatService) commitTurn(
	ctx context.Context,
	sess *store.Handle,
	in ChatInput,
	outcome relay.Outcome,
	out StreamEvents,
	clientGone bool,
	started time.Time,
) {
	turn := model.Turn{Prompt: in.displayPrompt()}
	if outcome.Err != nil {
		turn.Error = outcome.Err.Error()
	} else {
		turn.Response = outcome.Text
	}
	sess.Append(turn)

	// Persist even when the request context is already canceled; the
	// client-facing stream has concluded either way.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := sess.Save(saveCtx); err != nil {
		s.logger.Error("session save failed after stream",
			"request_id", in.RequestID, "session_id", sess.ID, "error", err)
	}

	if outcome.Err != nil && !clientGone {
		_ = out.OnError(outcome.Err.Error())
	}

	s.report(ctx, sess, in, outcome, time.Since(started))
}

// SendChat is the blocking, non-streaming path. On success with a failed
// save it returns the answer together with ErrSessionSave so the caller can
// warn the user without discarding the computed response.
func (s *ChatService) SendChat(ctx context.Context, sess *store.Handle, in ChatInput) (string, error) {
	started := time.Now()

	if strings.TrimSpace(in.Prompt) == "" {
		return "", ErrPromptEmpty
	}

	answer, callErr := s.invoke(ctx, sess, in)

	turn := model.Turn{Prompt: in.displayPrompt()}
	outcome := relay.Outcome{Text: answer, Err: callErr}
	if callErr != nil {
		turn.Error = callErr.Error()
	} else {
		turn.Response = answer
	}
	sess.Append(turn)
	saveErr := sess.Save(ctx)
	if saveErr != nil {
		s.logger.Error("session save failed after chat",
			"request_id", in.RequestID, "session_id", sess.ID, "error", saveErr)
	}
	s.report(ctx, sess, in, outcome, time.Since(started))

	if callErr != nil {
		return "", fmt.Errorf("%w: %s", ErrUpstream, callErr.Error())
	}
	if saveErr != nil {
		return answer, ErrSessionSave
	}
	return answer, nil
}

func (s *ChatService) invoke(ctx context.Context, sess *store.Handle, in ChatInput) (string, error) {
	token, err := s.tokens.Token(ctx, s.audience)
	if err != nil {
		return "", fmt.Errorf("acquire upstream credential failed: %w", err)
	}
	return s.client.Invoke(ctx, s.serviceURL, token, relay.ChatRequest{
		Model:   s.model,
		Prompt:  in.Prompt,
		History: *sess.History,
		Images:  in.Images,
	})
}

// FailSetup records a request that failed before any upstream call could be
// made (for example, attachments that contained no valid image). The failed
// turn still counts toward history and persistence.
func (s *ChatService) FailSetup(ctx context.Context, sess *store.Handle, in ChatInput, cause error) {
	started := time.Now()
	sess.Append(model.Turn{Prompt: in.displayPrompt(), Error: cause.Error()})
	if err := sess.Save(ctx); err != nil {
		s.logger.Error("session save failed after setup failure",
			"request_id", in.RequestID, "session_id", sess.ID, "error", err)
	}
	s.report(ctx, sess, in, relay.Outcome{Err: cause}, time.Since(started))
}

func (s *ChatService) report(ctx context.Context, sess *store.Handle, in ChatInput, outcome relay.Outcome, elapsed time.Duration) {
	event := model.AnalyticsEvent{
		RequestID:      in.RequestID,
		SessionID:      sess.ID,
		PromptLength:   len(in.Prompt),
		ResponseLength: len(outcome.Text),
		ImageCount:     in.attachmentCount(),
		DurationMS:     elapsed.Milliseconds(),
		Success:        outcome.Err == nil,
	}
	if outcome.Err != nil {
		event.ErrorMessage = outcome.Err.Error()
	}
	if outcome.Stats != nil {
		event.EvalCount = outcome.Stats.EvalCount
		event.PromptEvalCount = outcome.Stats.PromptEvalCount
		event.TotalDurationNS = outcome.Stats.TotalDuration
	}
	s.sink.Log(ctx, event)
}
