// Package analytics defines the fire-and-forget reporting sink the request
// path emits to. Implementations must never block or fail a request.
package analytics

import (
	"context"

	"chatrelay/internal/model"
)

type Sink interface {
	Log(ctx context.Context, event model.AnalyticsEvent)
}

// NopSink discards events. Used when no broker is configured and in tests.
type NopSink struct{}

func (NopSink) Log(context.Context, model.AnalyticsEvent) {}
