package relay

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

// State tracks one relayed stream from first byte to terminal outcome.
type State int

const (
	AwaitingFirstChunk State = iota
	Streaming
	TerminatedOK
	TerminatedError
)

func (s State) String() string {
	switch s {
	case AwaitingFirstChunk:
		return "awaiting_first_chunk"
	case Streaming:
		return "streaming"
	case TerminatedOK:
		return "terminated_ok"
	case TerminatedError:
		return "terminated_error"
	}
	return "unknown"
}

// fragment is one newline-delimited JSON unit of the upstream stream.
type fragment struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	EvalCount       int64 `json:"eval_count"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
	TotalDuration   int64 `json:"total_duration"`
}

// Events receives the client-facing stream as the reconciler produces it.
// OnDelta fires once per incremental fragment, unbatched. OnDone fires at
// most once, on the upstream's terminal marker, carrying the full
// accumulated text so a client that missed increments can still render the
// complete answer.
type Events struct {
	OnDelta func(text string)
	OnDone  func(full string, stats *GenStats)
}

// Reconciler folds the upstream's incremental fragments into the full
// transcript for one turn, forwarding each text delta as it arrives. It is
// fed complete lines and holds no reference to any network stream, so it
// can be driven by a synthetic fragment sequence in tests.
type Reconciler struct {
	state  State
	full   strings.Builder
	stats  *GenStats
	events Events
	logger *slog.Logger
}

func NewReconciler(logger *slog.Logger, events Events) *Reconciler {
	return &Reconciler{state: AwaitingFirstChunk, events: events, logger: logger}
}

func (r *Reconciler) CurrentState() State { return r.state }

// Text returns the transcript accumulated so far.
func (r *Reconciler) Text() string { return r.full.String() }

// FeedLine consumes one line of the upstream byte stream. Partial or
// garbled fragments are expected at chunk boundaries in real deployments:
// an unparseable line is logged and skipped, never fatal. Fragments after
// the terminal marker are ignored.
func (r *Reconciler) FeedLine(line []byte) {
	if r.state == TerminatedOK || r.state == TerminatedError {
		return
	}
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}

	var frag fragment
	if err := json.Unmarshal(trimmed, &frag); err != nil {
		r.logger.Warn("skipping malformed stream fragment", "error", err)
		return
	}

	if frag.Message.Content != "" {
		r.state = Streaming
		r.full.WriteString(frag.Message.Content)
		if r.events.OnDelta != nil {
			r.events.OnDelta(frag.Message.Content)
		}
	}

	if frag.Done {
		r.stats = &GenStats{
			EvalCount:       frag.EvalCount,
			PromptEvalCount: frag.PromptEvalCount,
			TotalDuration:   frag.TotalDuration,
		}
		r.state = TerminatedOK
		if r.events.OnDone != nil {
			r.events.OnDone(r.full.String(), r.stats)
		}
	}
}

// Outcome is the single terminal result of one relayed stream.
type Outcome struct {
	Text  string
	Stats *GenStats
	Err   error
	State State
}

// Finish resolves the terminal state once the underlying byte stream has
// ended. A stream can end without ever sending the terminal marker (abrupt
// upstream disconnect); whatever text accumulated still becomes the turn's
// response. transportErr reports an error raised by the transport itself,
// which instead marks the turn as errored.
func (r *Reconciler) Finish(transportErr error) Outcome {
	if transportErr != nil && r.state != TerminatedOK {
		r.state = TerminatedError
		return Outcome{Text: r.full.String(), Stats: r.stats, Err: transportErr, State: r.state}
	}
	r.state = TerminatedOK
	return Outcome{Text: r.full.String(), Stats: r.stats, State: r.state}
}
