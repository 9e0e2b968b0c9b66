package inat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/openfield/inatmirror/internal/cache"
	"github.com/openfield/inatmirror/internal/normalize"
)

// batchResult is what one concurrent batch produced: the payloads that
// were actually refetched, plus the snapshot header shared by every table
// derived from them — the earliest captured-at among the responses, with
// no etag. Claiming a derived snapshot is older than it is only costs an
// extra revalidation later, never staleness.
type batchResult struct {
	fetched map[uint64]normalize.Entity
	header  cache.Header
}

// syncObservationBatch fetches a batch of known ids in parallel under the
// worker permit pool, each task running its own conditional-fetch cycle
// against its own cache file. The first fatal error cancels the group;
// tasks give up cooperatively before starting and while waiting for a
// permit, but an already-in-flight request is left to finish. Completed
// items stay cached — there is no rollback.
func (c *Client) syncObservationBatch(ctx context.Context, ids []uint64) (*batchResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(c.workers))

	var mu sync.Mutex
	fetched := make(map[uint64]normalize.Entity)
	var earliest time.Time

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("acquire fetch permit: %w", err)
			}
			defer sem.Release(1)
			if err := gctx.Err(); err != nil {
				return err
			}

			prior, err := c.store.ReadEntityHeader(normalize.KindObservations, id)
			if err != nil {
				return err
			}
			// Fetch on the caller's context: a sibling failure must not
			// abort a request already on the wire.
			res, err := c.fetch(ctx, c.endpoint(fmt.Sprintf("/observations/%d", id), nil), prior)
			if err != nil {
				return fmt.Errorf("observation %d: %w", id, err)
			}
			if res == nil {
				return nil // still current
			}
			obs, err := res.Envelope.singleResult()
			if err != nil {
				return fmt.Errorf("observation %d: %w", id, err)
			}
			obsID, err := normalize.EntityID(obs)
			if err != nil {
				return fmt.Errorf("observation %d: %w", id, err)
			}
			if obsID != id {
				return protocolf("observation %d: response carries id %d", id, obsID)
			}
			if err := c.store.WriteEntity(normalize.KindObservations, id, res.Header, obs); err != nil {
				return err
			}

			mu.Lock()
			fetched[id] = obs
			if earliest.IsZero() || res.Header.Date.Before(earliest) {
				earliest = res.Header.Date
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &batchResult{
		fetched: fetched,
		header:  cache.Header{Date: earliest},
	}, nil
}
