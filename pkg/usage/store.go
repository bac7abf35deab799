// Package usage records one row per completed dispatch and answers simple usage
// queries. Rows are written by a global response interceptor.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// ErrUnsupportedDriver is returned by Open for unknown drivers.
var ErrUnsupportedDriver = errors.New("unsupported usage driver")

// Recorder exposes persistence operations for usage records.
type Recorder interface {
	Record(ctx context.Context, rec domain.UsageRecord) error
	CountByRoute(ctx context.Context, route string, since time.Time) (int64, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
	Close() error
}

// RouteCount is one row of a per-route usage summary.
type RouteCount struct {
	Route string
	Count int64
}
