package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// EntityID returns the numeric identity of an entity. Every extracted
// sub-object must carry one; its absence fails the extraction.
func EntityID(e Entity) (uint64, error) {
	v, ok := e["id"]
	if !ok {
		return 0, errors.New("missing id")
	}
	id, err := numericID(v)
	if err != nil {
		return 0, fmt.Errorf("id %v: %w", v, err)
	}
	return id, nil
}

func numericID(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, errors.New("negative")
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, errors.New("negative")
		}
		return uint64(n), nil
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return 0, errors.New("not an unsigned integer")
		}
		return uint64(n), nil
	case json.Number:
		return strconv.ParseUint(n.String(), 10, 64)
	default:
		return 0, errors.New("not a number")
	}
}

type extracted struct {
	id  uint64
	obj Entity
}

// extractObject removes an embedded object from parent[field], rewrites
// the field to hold just the object's id, and drops any redundant
// <field>_id convenience field. A nil or absent field is a no-op.
func extractObject(parent Entity, field string) (extracted, bool, error) {
	v, ok := parent[field]
	if !ok || v == nil {
		return extracted{}, false, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return extracted{}, false, fmt.Errorf("%s: not an object", field)
	}
	id, err := EntityID(obj)
	if err != nil {
		return extracted{}, false, fmt.Errorf("%s: %w", field, err)
	}
	parent[field] = id
	delete(parent, field+"_id")
	return extracted{id: id, obj: obj}, true, nil
}

// extractArray is extractObject for an array of embedded objects: the
// field is rewritten to the ordered id list and any <field>_ids field is
// dropped. A nil or absent field is a no-op.
func extractArray(parent Entity, field string) ([]extracted, error) {
	v, ok := parent[field]
	if !ok || v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: not an array", field)
	}
	out := make([]extracted, 0, len(arr))
	ids := make([]uint64, 0, len(arr))
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s item: not an object", field)
		}
		id, err := EntityID(obj)
		if err != nil {
			return nil, fmt.Errorf("%s item: %w", field, err)
		}
		out = append(out, extracted{id: id, obj: obj})
		ids = append(ids, id)
	}
	parent[field] = ids
	delete(parent, field+"_ids")
	return out, nil
}
