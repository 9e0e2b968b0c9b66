package normalize

import "fmt"

// A pass moves embedded objects out of the tables named in scans and into
// the tables named in fills. Passes run in ascending stage order; the
// staging is what guarantees a pass only ever scans tables that earlier
// stages have finished populating. verifyPasses checks that property
// against the declarations, so the topology is auditable without reading
// the pass bodies.
type pass struct {
	name  string
	stage int
	scans []string
	fills []string
	run   func(Tables) error
}

// fieldRef names one embedded-object field on one kind's entities.
type fieldRef struct {
	kind  string
	field string
}

var passes = []pass{
	// Stage 1: everything extracted directly from observations.
	{
		name:  "annotation controlled terms",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindControlledTerms},
		run:   extractAnnotationTerms,
	},
	{
		name:  "applications",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindApplications},
		run:   objectPass(KindApplications, fieldRef{KindObservations, "application"}),
	},
	{
		name:  "comments",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindComments},
		run:   arrayPass(KindComments, fieldRef{KindObservations, "comments"}),
	},
	{
		name:  "faves",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindFaves},
		run:   arrayPass(KindFaves, fieldRef{KindObservations, "faves"}),
	},
	{
		name:  "identifications",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindIdentifications},
		run: arrayPass(KindIdentifications,
			fieldRef{KindObservations, "identifications"},
			fieldRef{KindObservations, "non_owner_ids"}),
	},
	{
		name:  "observation field values",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindObservationFieldVals},
		run:   arrayPass(KindObservationFieldVals, fieldRef{KindObservations, "ofvs"}),
	},
	{
		name:  "observation photos",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindObservationPhotos},
		run:   arrayPass(KindObservationPhotos, fieldRef{KindObservations, "observation_photos"}),
	},
	{
		name:  "project observations",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindProjectObservations},
		run:   arrayPass(KindProjectObservations, fieldRef{KindObservations, "project_observations"}),
	},
	{
		name:  "quality metrics",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindQualityMetrics},
		run:   arrayPass(KindQualityMetrics, fieldRef{KindObservations, "quality_metrics"}),
	},
	{
		name:  "votes",
		stage: 1,
		scans: []string{KindObservations},
		fills: []string{KindVotes},
		run:   arrayPass(KindVotes, fieldRef{KindObservations, "votes"}),
	},

	// Stage 2: children of the tables stage 1 produced.
	{
		name:  "controlled term labels",
		stage: 2,
		scans: []string{KindControlledTerms},
		fills: []string{KindControlledTermLabels},
		run:   arrayPass(KindControlledTermLabels, fieldRef{KindControlledTerms, "labels"}),
	},
	{
		name:  "taxa",
		stage: 2,
		scans: []string{KindObservations, KindIdentifications},
		fills: []string{KindTaxa},
		run:   extractTaxa,
	},
	{
		name:  "taxon changes",
		stage: 2,
		scans: []string{KindIdentifications},
		fills: []string{KindTaxonChanges},
		run:   objectPass(KindTaxonChanges, fieldRef{KindIdentifications, "taxon_change"}),
	},
	{
		name:  "observation fields",
		stage: 2,
		scans: []string{KindObservationFieldVals},
		fills: []string{KindObservationFields},
		run:   objectPass(KindObservationFields, fieldRef{KindObservationFieldVals, "observation_field"}),
	},
	{
		name:  "projects",
		stage: 2,
		scans: []string{KindProjectObservations},
		fills: []string{KindProjects},
		run:   objectPass(KindProjects, fieldRef{KindProjectObservations, "project"}),
	},

	// Stage 3: children of stage 2 tables.
	{
		name:  "project admins",
		stage: 3,
		scans: []string{KindProjects},
		fills: []string{KindProjectAdmins},
		run:   arrayPass(KindProjectAdmins, fieldRef{KindProjects, "admins"}),
	},
	{
		name:  "conservation statuses",
		stage: 3,
		scans: []string{KindTaxa},
		fills: []string{KindConservationStatuses},
		run:   objectPass(KindConservationStatuses, fieldRef{KindTaxa, "conservation_status"}),
	},

	// Stage 4: photos, which flags (stage 5) scan in turn.
	{
		name:  "photos",
		stage: 4,
		scans: []string{KindObservations, KindObservationPhotos, KindTaxa},
		fills: []string{KindPhotos},
		run:   extractPhotos,
	},

	// Stage 5: flags can be attached to photos, so they come after.
	{
		name:  "flags",
		stage: 5,
		scans: []string{KindComments, KindIdentifications, KindObservations, KindPhotos, KindProjects},
		fills: []string{KindFlags},
		run: arrayPass(KindFlags,
			fieldRef{KindComments, "flags"},
			fieldRef{KindIdentifications, "flags"},
			fieldRef{KindObservations, "flags"},
			fieldRef{KindPhotos, "flags"},
			fieldRef{KindProjects, "flags"}),
	},

	// Stage 6: users last, since almost every earlier stage can surface
	// new user-embedding objects.
	{
		name:  "users",
		stage: 6,
		scans: []string{
			KindComments, KindFaves, KindIdentifications, KindObservationFieldVals,
			KindObservations, KindProjectObservations, KindQualityMetrics, KindVotes,
		},
		fills: []string{KindUsers},
		run: objectPass(KindUsers,
			fieldRef{KindComments, "user"},
			fieldRef{KindFaves, "user"},
			fieldRef{KindIdentifications, "user"},
			fieldRef{KindObservationFieldVals, "user"},
			fieldRef{KindObservations, "user"},
			fieldRef{KindProjectObservations, "user"},
			fieldRef{KindQualityMetrics, "user"},
			fieldRef{KindVotes, "user"}),
	},
}

// objectPass builds a pass body extracting one embedded object per ref
// into the target table.
func objectPass(into string, refs ...fieldRef) func(Tables) error {
	return func(t Tables) error {
		for _, ref := range refs {
			for parentID, e := range t[ref.kind] {
				item, ok, err := extractObject(e, ref.field)
				if err != nil {
					return fmt.Errorf("%s %d: %w", ref.kind, parentID, err)
				}
				if ok {
					t.insert(into, item.id, item.obj)
				}
			}
		}
		return nil
	}
}

// arrayPass builds a pass body extracting an array of embedded objects
// per ref into the target table.
func arrayPass(into string, refs ...fieldRef) func(Tables) error {
	return func(t Tables) error {
		for _, ref := range refs {
			for parentID, e := range t[ref.kind] {
				items, err := extractArray(e, ref.field)
				if err != nil {
					return fmt.Errorf("%s %d: %w", ref.kind, parentID, err)
				}
				for _, item := range items {
					t.insert(into, item.id, item.obj)
				}
			}
		}
		return nil
	}
}

// extractAnnotationTerms scans each observation's annotations in place:
// annotations stay embedded, but their controlled attribute and value
// objects (and those objects' nested value lists) move to the controlled
// terms table.
func extractAnnotationTerms(t Tables) error {
	for obsID, obs := range t[KindObservations] {
		v, ok := obs["annotations"]
		if !ok || v == nil {
			continue
		}
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("observations %d: annotations: not an array", obsID)
		}
		for _, item := range arr {
			ann, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("observations %d: annotations item: not an object", obsID)
			}
			for _, field := range []string{"controlled_attribute", "controlled_value"} {
				term, ok, err := extractObject(ann, field)
				if err != nil {
					return fmt.Errorf("observations %d: %w", obsID, err)
				}
				if !ok {
					continue
				}
				nested, err := extractArray(term.obj, "values")
				if err != nil {
					return fmt.Errorf("observations %d: %s: %w", obsID, field, err)
				}
				for _, val := range nested {
					t.insert(KindControlledTerms, val.id, val.obj)
				}
				t.insert(KindControlledTerms, term.id, term.obj)
			}
		}
	}
	return nil
}

// extractTaxa pulls taxa out of observations and identifications, then
// resolves the self-referential ancestor lists through a staging arena so
// the taxa table is never mutated while being scanned and no entity ever
// holds a live reference to another.
func extractTaxa(t Tables) error {
	direct := objectPass(KindTaxa,
		fieldRef{KindObservations, "taxon"},
		fieldRef{KindObservations, "community_taxon"},
		fieldRef{KindIdentifications, "taxon"},
		fieldRef{KindIdentifications, "previous_observation_taxon"})
	if err := direct(t); err != nil {
		return err
	}

	arena := map[uint64]Entity{}
	for taxonID, taxon := range t[KindTaxa] {
		items, err := extractArray(taxon, "ancestors")
		if err != nil {
			return fmt.Errorf("%s %d: %w", KindTaxa, taxonID, err)
		}
		for _, item := range items {
			arena[item.id] = item.obj
		}
	}
	for id, obj := range arena {
		t.insert(KindTaxa, id, obj)
	}
	return nil
}

// extractPhotos gathers photos from every place the API embeds them.
func extractPhotos(t Tables) error {
	if err := arrayPass(KindPhotos, fieldRef{KindObservations, "photos"})(t); err != nil {
		return err
	}
	return objectPass(KindPhotos,
		fieldRef{KindObservationPhotos, "photo"},
		fieldRef{KindTaxa, "default_photo"})(t)
}

// verifyPasses audits the declared graph: stages must be non-decreasing
// in declaration order, every kind named must exist, and every scanned
// table (other than the observations seed) may only be filled by strictly
// earlier stages.
func verifyPasses(list []pass) error {
	known := map[string]bool{}
	for _, kind := range Kinds {
		known[kind] = true
	}

	fillStage := map[string]int{}
	prevStage := 0
	for _, p := range list {
		if p.stage < prevStage {
			return fmt.Errorf("pass %q: stage %d declared after stage %d", p.name, p.stage, prevStage)
		}
		prevStage = p.stage
		for _, kind := range p.fills {
			if !known[kind] {
				return fmt.Errorf("pass %q fills unknown kind %q", p.name, kind)
			}
			if kind == KindObservations {
				return fmt.Errorf("pass %q fills the observations seed", p.name)
			}
			if p.stage > fillStage[kind] {
				fillStage[kind] = p.stage
			}
		}
	}

	for _, p := range list {
		for _, kind := range p.scans {
			if !known[kind] {
				return fmt.Errorf("pass %q scans unknown kind %q", p.name, kind)
			}
			if kind == KindObservations {
				continue // seeded before the pipeline runs
			}
			if stage, ok := fillStage[kind]; !ok {
				return fmt.Errorf("pass %q scans %q, which nothing fills", p.name, kind)
			} else if stage >= p.stage {
				return fmt.Errorf("pass %q (stage %d) scans %q, still being filled in stage %d",
					p.name, p.stage, kind, stage)
			}
		}
	}
	return nil
}
