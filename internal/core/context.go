package core

import "context"

type contextKey string

const (
	ctxKeyRunID   contextKey = "run_id"
	ctxKeyTrigger contextKey = "run_trigger"
)

// Run triggers.
const (
	TriggerAPI       = "api"
	TriggerCLI       = "cli"
	TriggerScheduler = "scheduler"
)

// ContextWithRunID adds the run ID to context for logging.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, id)
}

// ContextWithTrigger records what started the run.
func ContextWithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, ctxKeyTrigger, trigger)
}

// RunIDFromContext extracts the run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}

// TriggerFromContext extracts the run trigger from context.
func TriggerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTrigger).(string); ok {
		return v
	}
	return ""
}
