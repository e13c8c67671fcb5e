package storefront

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func attempt(name string, result string, err error, calls *[]string) Attempt[string] {
	return Attempt[string]{
		Name: name,
		Run: func(ctx context.Context) (string, error) {
			*calls = append(*calls, name)
			return result, err
		},
	}
}

func TestFirstReturnsFirstSuccess(t *testing.T) {
	var calls []string

	out, err := First(context.Background(), "op", []Attempt[string]{
		attempt("a", "", errors.New("boom"), &calls),
		attempt("b", "result", nil, &calls),
		attempt("c", "never", nil, &calls),
	})
	require.NoError(t, err)
	require.Equal(t, "result", out)
	require.Equal(t, []string{"a", "b"}, calls)
}

func TestFirstJoinsAllFailures(t *testing.T) {
	var calls []string
	errA := errors.New("json endpoint 500")
	errB := errors.New("html parse miss")

	_, err := First(context.Background(), "op", []Attempt[string]{
		attempt("a", "", errA, &calls),
		attempt("b", "", errB, &calls),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}

func TestFirstShortCircuitsOnBlocked(t *testing.T) {
	var calls []string

	_, err := First(context.Background(), "op", []Attempt[string]{
		attempt("a", "", Blocked("cloudflare 403"), &calls),
		attempt("b", "never", nil, &calls),
	})
	require.ErrorIs(t, err, ErrBlocked)
	require.Equal(t, []string{"a"}, calls, "fallbacks must not run once blocked")
}

func TestFirstStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string

	_, err := First(ctx, "op", []Attempt[string]{
		{Name: "a", Run: func(ctx context.Context) (string, error) {
			calls = append(calls, "a")
			cancel()
			return "", errors.New("interrupted")
		}},
		attempt("b", "never", nil, &calls),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"a"}, calls)
}

func TestFirstRequiresStrategies(t *testing.T) {
	_, err := First[string](context.Background(), "op", nil)
	require.Error(t, err)
}
