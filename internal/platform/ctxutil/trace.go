package ctxutil

import (
	"context"
	"strings"
)

type traceDataKey struct{}
type actorKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}

// WithActor records who is performing a write (curator, loader, operator).
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, strings.TrimSpace(actor))
}

// Actor returns the acting identity, or "system" when none was attached.
func Actor(ctx context.Context) string {
	if ctx != nil {
		if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
			return v
		}
	}
	return "system"
}
