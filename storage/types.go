package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a structured context column, stored as a JSON object.
// A nil or empty map is stored as NULL.
type JSONMap map[string]any

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T", v)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal context: %w", err)
	}
	*m = out
	return nil
}

func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	return string(data), nil
}

// Tags is an ordered set of labels, stored as a JSON array.
type Tags []string

// Add returns the union of t and tags. Existing order is kept and new tags
// are appended in the order given; duplicates and empty strings are dropped.
func (t Tags) Add(tags ...string) Tags {
	out := make(Tags, 0, len(t)+len(tags))
	seen := make(map[string]struct{}, len(t)+len(tags))
	for _, list := range [][]string{t, tags} {
		for _, tag := range list {
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

// Remove returns t without tags, preserving the order of what is left.
func (t Tags) Remove(tags ...string) Tags {
	drop := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		drop[tag] = struct{}{}
	}
	out := make(Tags, 0, len(t))
	for _, tag := range t {
		if _, ok := drop[tag]; !ok {
			out = append(out, tag)
		}
	}
	return out
}

func (t Tags) Has(tag string) bool {
	for _, v := range t {
		if v == tag {
			return true
		}
	}
	return false
}

func (t *Tags) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T", v)
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal tags: %w", err)
	}
	*t = out
	return nil
}

func (t Tags) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	data, err := json.Marshal([]string(t))
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}
