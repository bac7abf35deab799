package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Property: routing is deterministic. The same request against the same
// configuration always reaches the same handler, and that handler is the first
// registered one whose identifier equals the request name.
func TestRoutingDeterminismProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		names := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c", "d", "e"}), 1, 8).Draw(rt, "routes")
		requested := rapid.SampledFrom([]string{"a", "b", "c", "d", "e", "z"}).Draw(rt, "request")

		b := newBuilder()
		for i, name := range names {
			b.AddNamedHandler(name, respond(fmt.Sprintf("%s#%d", name, i)))
		}
		cfg, err := b.Build()
		require.NoError(rt, err)
		d, err := NewDispatcher(cfg, WithMetrics(false))
		require.NoError(rt, err)

		want := ""
		for i, name := range names {
			if name == requested {
				want = fmt.Sprintf("%s#%d", name, i)
				break
			}
		}

		for attempt := 0; attempt < 3; attempt++ {
			out, err := d.Dispatch(context.Background(), newRequest(requested))
			if want == "" {
				require.ErrorIs(rt, err, ErrNoHandlerFound)
				continue
			}
			require.NoError(rt, err)
			require.Equal(rt, want, out.body)
		}
	})
}

// Property: when at most one route accepts a request, registration order does not
// change the outcome.
func TestRoutingOrderIndependenceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 8).Draw(rt, "count")
		names := make([]string, count)
		for i := range names {
			names[i] = fmt.Sprintf("intent-%d", i)
		}
		order := rapid.Permutation(names).Draw(rt, "order")
		requested := rapid.SampledFrom(names).Draw(rt, "request")

		b := newBuilder()
		for _, name := range order {
			b.AddNamedHandler(name, respond(name))
		}
		cfg, err := b.Build()
		require.NoError(rt, err)
		d, err := NewDispatcher(cfg, WithMetrics(false))
		require.NoError(rt, err)

		out, err := d.Dispatch(context.Background(), newRequest(requested))
		require.NoError(rt, err)
		require.Equal(rt, requested, out.body)
	})
}

// Property: the first accepting error handler is the only one that runs, and an
// unrecovered failure surfaces the original error instance.
func TestErrorRecoveryPrecedenceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		accepts := rapid.SliceOfN(rapid.Bool(), 0, 6).Draw(rt, "accepts")
		failure := errors.New(rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "failure"))

		handlers := make([]*countingErrorHandler, len(accepts))
		b := newBuilder().AddNamedHandler("x", fail(failure))
		for i, accept := range accepts {
			handlers[i] = &countingErrorHandler{name: fmt.Sprintf("E%d", i), accept: accept}
			b.AddErrorHandlers(handlers[i])
		}
		cfg, err := b.Build()
		require.NoError(rt, err)
		d, err := NewDispatcher(cfg, WithMetrics(false))
		require.NoError(rt, err)

		out, err := d.Dispatch(context.Background(), newRequest("x"))

		first := -1
		for i, accept := range accepts {
			if accept {
				first = i
				break
			}
		}
		if first < 0 {
			require.Same(rt, failure, err)
			require.Nil(rt, out)
		} else {
			require.NoError(rt, err)
			require.Equal(rt, fmt.Sprintf("recovered:E%d", first), out.body)
		}

		for i, h := range handlers {
			switch {
			case first >= 0 && i == first:
				require.Equal(rt, 1, h.handled)
			default:
				require.Zero(rt, h.handled)
			}
			if first >= 0 && i > first {
				require.Zero(rt, h.checks)
			}
		}
	})
}
