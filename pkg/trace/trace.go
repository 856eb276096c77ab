// Package trace provides a timed, logged call wrapper used at component
// boundaries.
package trace

import (
	"context"
	"log/slog"
	"time"
)

// Run executes fn and logs the operation name, its duration and the error if
// one was returned. attrs are appended as additional slog key/value pairs.
func Run(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...any) error {
	start := time.Now()
	err := fn(ctx)

	args := make([]any, 0, len(attrs)+6)
	args = append(args, "op", op, "duration", time.Since(start))
	args = append(args, attrs...)

	if err != nil {
		args = append(args, "error", err)
		slog.ErrorContext(ctx, "operation failed", args...)
		return err
	}
	slog.DebugContext(ctx, "operation completed", args...)
	return nil
}

// Value is Run for closures that produce a result.
func Value[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error), attrs ...any) (T, error) {
	var out T
	err := Run(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, attrs...)
	return out, err
}
