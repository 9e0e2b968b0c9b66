package normalize

import (
	"fmt"

	"github.com/openfield/inatmirror/internal/cache"
)

// Normalizer decomposes one batch of freshly fetched observations into
// the flat per-kind tables.
type Normalizer struct {
	tables Tables
}

// New seeds a normalizer with a batch's observations. The maps are taken
// over, not copied: extraction rewrites them in place.
func New(observations map[uint64]Entity) *Normalizer {
	t := newTables()
	for id, e := range observations {
		t.insert(KindObservations, id, e)
	}
	return &Normalizer{tables: t}
}

// Run executes the extraction passes in declared stage order.
func (n *Normalizer) Run() error {
	for _, p := range passes {
		if err := p.run(n.tables); err != nil {
			return fmt.Errorf("extract %s: %w", p.name, err)
		}
	}
	return nil
}

// Tables exposes the populated tables, mainly for inspection in tests.
func (n *Normalizer) Tables() Tables {
	return n.tables
}

// Flush writes every non-empty table through the store, one document per
// entity, all stamped with the batch's shared header.
func (n *Normalizer) Flush(store *cache.Store, hdr cache.Header) error {
	for _, kind := range Kinds {
		for id, e := range n.tables[kind] {
			if err := store.WriteEntity(kind, id, hdr, e); err != nil {
				return fmt.Errorf("flush %s %d: %w", kind, id, err)
			}
		}
	}
	return nil
}
