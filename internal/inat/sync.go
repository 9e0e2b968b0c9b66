package inat

import (
	"context"
	"fmt"

	"github.com/openfield/inatmirror/internal/normalize"
)

// SyncAll mirrors everything belonging to one owner: their user record,
// the observation id listing, and every observation together with the
// entities it embeds. Batches are fetched concurrently, then decomposed
// into per-kind tables and flushed; only entities that actually changed
// get new cache files.
func (c *Client) SyncAll(ctx context.Context, login string) error {
	if err := c.store.EnsureDirs(normalize.Kinds...); err != nil {
		return err
	}

	userID, err := c.syncUser(ctx, login)
	if err != nil {
		return fmt.Errorf("sync user %s: %w", login, err)
	}
	c.logf("user %s has id %d", login, userID)

	ids, err := c.syncObservationIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("list observations for user %d: %w", userID, err)
	}
	c.logf("listing holds %d observation ids", len(ids))

	refreshed := 0
	for start := 0; start < len(ids); start += c.batchSize {
		end := min(start+c.batchSize, len(ids))
		batch, err := c.syncObservationBatch(ctx, ids[start:end])
		if err != nil {
			return err
		}
		if len(batch.fetched) == 0 {
			continue
		}
		norm := normalize.New(batch.fetched)
		if err := norm.Run(); err != nil {
			return err
		}
		if err := norm.Flush(c.store, batch.header); err != nil {
			return err
		}
		refreshed += len(batch.fetched)
		c.logf("batch %d..%d: refreshed %d observations", ids[start], ids[end-1], len(batch.fetched))
	}
	c.logf("sync complete: %d of %d observations refreshed", refreshed, len(ids))
	return nil
}
