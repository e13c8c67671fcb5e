package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Attempt is one way of satisfying an operation: the JSON endpoint, the
// embedded-JSON-in-HTML fallback, the full HTML scrape, the headless
// browser. Attempts for one operation share a result type and are tried
// in order of preference.
type Attempt[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// First runs attempts in order and returns the first success. A failed
// attempt is logged and the next one is tried, except for ErrBlocked:
// once the anti-bot layer has rejected us, later fallbacks against the
// same host would only feed the challenge scoring, so blocking
// short-circuits the cascade. When every attempt fails the joined errors
// are returned.
func First[T any](ctx context.Context, op string, attempts []Attempt[T]) (T, error) {
	var zero T
	if len(attempts) == 0 {
		return zero, fmt.Errorf("%s: no strategies configured", op)
	}

	var errlist []error
	for _, a := range attempts {
		out, err := a.Run(ctx)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrBlocked) {
			slog.WarnContext(ctx, "strategy blocked",
				"op", op, "strategy", a.Name, "err", err)
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		slog.DebugContext(ctx, "strategy failed, falling back",
			"op", op, "strategy", a.Name, "err", err)
		errlist = append(errlist, fmt.Errorf("%s: %w", a.Name, err))
	}

	return zero, fmt.Errorf("%s: all strategies failed: %w", op, errors.Join(errlist...))
}
