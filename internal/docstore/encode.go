package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

func encode(data Data, now time.Time) ([]byte, error) {
	resolved := make(map[string]any, len(data))
	for k, v := range data {
		if k == "" || strings.Contains(k, "/") {
			return nil, fmt.Errorf("docstore: invalid field name %q", k)
		}
		resolved[k] = resolve(v, now)
	}
	b, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode: %w", err)
	}
	return b, nil
}

func resolve(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = resolve(inner, now)
		}
		return out
	default:
		return v
	}
}

// mergeFields overlays the top-level fields of patch onto base.
func mergeFields(base, patch []byte) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, fmt.Errorf("docstore: decode existing: %w", err)
		}
	}
	var over map[string]json.RawMessage
	if err := json.Unmarshal(patch, &over); err != nil {
		return nil, fmt.Errorf("docstore: decode patch: %w", err)
	}
	for k, v := range over {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// normalize converts a Go value to its JSON-decoded form so it can be
// compared with stored field values.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func matches(doc *DocumentSnapshot, filters []Filter) bool {
	for _, f := range filters {
		got, ok := doc.Field(f.Field)
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, normalize(f.Value)) {
			return false
		}
	}
	return true
}

// typeRank follows the jsonb btree order so both stores sort a field of
// mixed types the same way: null < string < number < bool < array < object.
// A missing field ranks with null.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 1
	case float64:
		return 2
	case bool:
		return 3
	case []any:
		return 4
	default:
		return 5
	}
}

// compareValues orders decoded JSON values by typeRank, then by value.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(av, b.(string))
	default:
		ab, _ := json.Marshal(a)
		bb, _ := json.Marshal(b)
		return bytes.Compare(ab, bb)
	}
}
