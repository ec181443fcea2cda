package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// DocumentSnapshot is a point-in-time read of one document. A snapshot with
// Exists=false means the document is confirmed absent.
type DocumentSnapshot struct {
	ID         string
	Path       string
	Exists     bool
	Data       json.RawMessage
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo decodes the document into v and sets its "id" field from the path.
func (s *DocumentSnapshot) DataTo(v any) error {
	if s == nil || !s.Exists {
		return ErrNotFound
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", s.Path, err)
	}
	idJSON, err := json.Marshal(map[string]string{"id": s.ID})
	if err != nil {
		return err
	}
	return json.Unmarshal(idJSON, v)
}

// Field returns the decoded value of a top-level field.
func (s *DocumentSnapshot) Field(name string) (any, bool) {
	if s == nil || !s.Exists {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal(s.Data, &fields); err != nil {
		return nil, false
	}
	v, ok := fields[name]
	return v, ok
}

// QuerySnapshot is the ordered result of a collection query.
type QuerySnapshot struct {
	Docs     []*DocumentSnapshot
	ReadTime time.Time
}

// DecodeAll decodes every document of a query snapshot into a slice of T.
func DecodeAll[T any](qs *QuerySnapshot) ([]T, error) {
	if qs == nil {
		return nil, nil
	}
	out := make([]T, 0, len(qs.Docs))
	for _, doc := range qs.Docs {
		var v T
		if err := doc.DataTo(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
