// Package normalize decomposes deeply nested observation payloads into
// flat per-kind tables linked by id. Embedded objects are moved into
// their own tables and the parent field is rewritten to hold just the id
// (or the ordered id list for arrays), so every entity is cached exactly
// once and referenced everywhere else.
package normalize

// Entity is one record fetched from the API: an arbitrary field map that
// must carry a unique numeric id. Identity is (kind, id).
type Entity = map[string]any

// Entity kinds, one cache subdirectory and one table each.
const (
	KindApplications          = "applications"
	KindComments              = "comments"
	KindConservationStatuses  = "conservation_statuses"
	KindControlledTermLabels  = "controlled_term_labels"
	KindControlledTerms       = "controlled_terms"
	KindFaves                 = "faves"
	KindFlags                 = "flags"
	KindIdentifications       = "identifications"
	KindObservationFieldVals  = "observation_field_values"
	KindObservationFields     = "observation_fields"
	KindObservationPhotos     = "observation_photos"
	KindObservations          = "observations"
	KindPhotos                = "photos"
	KindProjectAdmins         = "project_admins"
	KindProjectObservations   = "project_observations"
	KindProjects              = "projects"
	KindQualityMetrics        = "quality_metrics"
	KindTaxa                  = "taxa"
	KindTaxonChanges          = "taxon_changes"
	KindUsers                 = "users"
	KindVotes                 = "votes"
)

// Kinds lists every table the normalizer can produce.
var Kinds = []string{
	KindApplications,
	KindComments,
	KindConservationStatuses,
	KindControlledTermLabels,
	KindControlledTerms,
	KindFaves,
	KindFlags,
	KindIdentifications,
	KindObservationFieldVals,
	KindObservationFields,
	KindObservationPhotos,
	KindObservations,
	KindPhotos,
	KindProjectAdmins,
	KindProjectObservations,
	KindProjects,
	KindQualityMetrics,
	KindTaxa,
	KindTaxonChanges,
	KindUsers,
	KindVotes,
}

// Tables holds the per-kind id-to-entity tables for one normalization
// run. Instances live for a single batch: created empty, populated by the
// passes, flushed, discarded.
type Tables map[string]map[uint64]Entity

func newTables() Tables {
	t := make(Tables, len(Kinds))
	for _, kind := range Kinds {
		t[kind] = map[uint64]Entity{}
	}
	return t
}

// insert records an entity under its kind. Duplicate ids within one run
// resolve last-write-wins.
func (t Tables) insert(kind string, id uint64, e Entity) {
	t[kind][id] = e
}

// Table returns one kind's table.
func (t Tables) Table(kind string) map[uint64]Entity {
	return t[kind]
}
