package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Snapshot is the latest normalised state of a single device.
//
// On the wire a snapshot is a JSON object with an "id", a "traits" tree and
// any number of other top-level fields (name, protocol, ...). Unknown
// top-level fields are preserved in Extra so that paths such as
// "protocol" or "meta.room" resolve the same way they would against the
// raw document.
type Snapshot struct {
	ID     string
	Traits map[string]any
	Extra  map[string]any
}

// NewSnapshot builds a snapshot from an id and a traits tree.
func NewSnapshot(id string, traits map[string]any) Snapshot {
	return Snapshot{ID: id, Traits: traits}
}

// Get resolves a dot-separated path against the snapshot document.
//
// The first segment selects a top-level field ("id", "traits" or an Extra
// key); later segments walk nested objects by key and arrays by decimal
// index. It reports false when any segment is missing.
//
//	snap.Get("traits.switch.state")   // "on", true
//	snap.Get("traits.buttons.0.name") // array index
func (s Snapshot) Get(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")

	var cur any
	switch head := segments[0]; head {
	case "id":
		cur = s.ID
	case "traits":
		if s.Traits == nil {
			return nil, false
		}
		cur = s.Traits
	default:
		v, ok := s.Extra[head]
		if !ok {
			return nil, false
		}
		cur = v
	}

	for _, seg := range segments[1:] {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch node := cur.(type) {
	case map[string]any:
		v, ok := node[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(node) {
			return nil, false
		}
		return node[i], true
	}
	return nil, false
}

// Clone returns a deep copy, so a cached snapshot cannot be mutated through
// a value handed to a caller.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		ID:     s.ID,
		Traits: cloneMap(s.Traits),
		Extra:  cloneMap(s.Extra),
	}
}

// MarshalJSON encodes the snapshot as a single flat document.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		doc[k] = v
	}
	doc["id"] = s.ID
	traits := s.Traits
	if traits == nil {
		traits = map[string]any{}
	}
	doc["traits"] = traits
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a snapshot document. The id must be a non-empty
// string and traits, when present, must be an object.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	id, _ := doc["id"].(string)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSnapshot)
	}
	delete(doc, "id")

	var traits map[string]any
	if raw, ok := doc["traits"]; ok {
		if raw != nil {
			m, isMap := raw.(map[string]any)
			if !isMap {
				return fmt.Errorf("%w: traits must be an object", ErrInvalidSnapshot)
			}
			traits = m
		}
		delete(doc, "traits")
	}

	s.ID = id
	s.Traits = traits
	s.Extra = nil
	if len(doc) > 0 {
		s.Extra = doc
	}
	return nil
}

// ParseSnapshot decodes a snapshot from a JSON payload.
func ParseSnapshot(payload []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = cloneValue(v)
	}
	return cpy
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = cloneValue(elem)
		}
		return cpy
	default:
		return v
	}
}
