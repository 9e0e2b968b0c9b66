package inat

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/openfield/inatmirror/internal/cache"
	"github.com/openfield/inatmirror/internal/normalize"
)

// Documented as 500, but in practice the server caps listing pages at 200.
const maxIDsPerPage = 200

// syncObservationIDs enumerates the owner's complete ascending id set via
// keyset pagination, resuming from the cached listing. Each page asks for
// ids strictly above the last known one, so concurrent inserts upstream
// never shift the window the way offset paging would. The conditional
// header is built from the cached listing's timestamp for every page; an
// unchanged remote set short-circuits in a single 304 round trip.
//
// Deletions upstream go undetected here: the persisted listing is a
// superset that only ever grows.
func (c *Client) syncObservationIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	listingPath := c.listingPath(userID)

	var ids []uint64
	var prior *cache.Header
	var lastHeader cache.Header
	cached, err := c.store.ReadIDList(listingPath)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		ids = cached.IDs
		prior = &cache.Header{Date: cached.Header.Date}
		lastHeader = cache.Header{Date: cached.Header.Date}
	}

	for {
		query := url.Values{}
		query.Set("only_id", "true")
		query.Set("order", "asc")
		query.Set("order_by", "id")
		query.Set("per_page", strconv.Itoa(maxIDsPerPage))
		query.Set("user_id", strconv.FormatUint(userID, 10))
		var idAbove uint64
		if len(ids) > 0 {
			idAbove = ids[len(ids)-1]
			query.Set("id_above", strconv.FormatUint(idAbove, 10))
		}

		res, err := c.fetch(ctx, c.endpoint("/observations", query), prior)
		if err != nil {
			return nil, err
		}
		if res == nil {
			// Unchanged upstream; the cached listing is still current.
			break
		}

		last, err := res.Envelope.lastPage()
		if err != nil {
			return nil, err
		}
		pageIDs, err := res.Envelope.resultIDs()
		if err != nil {
			return nil, err
		}
		prev := idAbove
		for _, id := range pageIDs {
			if id <= prev {
				return nil, protocolf("listing ids not ascending: %d after %d", id, prev)
			}
			prev = id
		}
		ids = append(ids, pageIDs...)

		if last {
			// The listing etag will never validate per-item fetches.
			lastHeader = res.Header.WithoutEtag()
			break
		}
	}

	if err := c.store.WriteIDList(listingPath, lastHeader, ids); err != nil {
		return nil, fmt.Errorf("persist id listing for user %d: %w", userID, err)
	}
	return ids, nil
}

// listingPath keys the owner's id listing by user id, next to the user's
// own cache file.
func (c *Client) listingPath(userID uint64) string {
	return filepath.Join(c.store.KindDir(normalize.KindUsers),
		fmt.Sprintf("%d.observations.yaml", userID))
}
