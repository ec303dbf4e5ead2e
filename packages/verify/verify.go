// Package verify defines the capability shared by every verification
// collaborator and the fan-out/join primitive they use for batches.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"urlscan/packages/domain"
	"urlscan/packages/logging"
)

var (
	ErrTransport         = errors.New("transport failure")
	ErrMalformedResponse = errors.New("malformed response")
	ErrRateLimited       = fmt.Errorf("%w: rate limit exceeded", ErrTransport)
)

// Verifier checks one URL against one external signal. VerifyOne never fails:
// on error it logs and leaves its result field on the record absent.
type Verifier interface {
	Name() domain.Collaborator
	VerifyOne(ctx context.Context, rec *domain.URLRecord) *domain.URLRecord
	VerifyMany(ctx context.Context, recs []*domain.URLRecord) []*domain.URLRecord
}

// FanOut runs fn once per item, all started eagerly unless limit > 0, and
// waits for every task. Results keep the positions of their inputs. A panic
// in one task is logged and that slot keeps its input; siblings are unaffected.
func FanOut[T any](ctx context.Context, logger *slog.Logger, items []T, limit int, fn func(context.Context, T) T) []T {
	out := make([]T, len(items))
	copy(out, items)
	if len(items) == 0 {
		return out
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					logging.OrDiscard(logger).Error("Fan-out task panicked",
						"index", i, "panic", p, "stack", string(debug.Stack()))
				}
			}()
			out[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Many fans v.VerifyOne out over recs.
func Many(ctx context.Context, logger *slog.Logger, v Verifier, recs []*domain.URLRecord, limit int) []*domain.URLRecord {
	return FanOut(ctx, logger, recs, limit, v.VerifyOne)
}
