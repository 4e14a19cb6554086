package deployments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// LabelSet is the declared label list: an ordered sequence of single-entry
// mappings. Order matters, later entries win when flattened.
type LabelSet []map[string]string

// UnmarshalJSON accepts an array of objects, a single object, or either of
// those pre-serialized into a JSON string (the form older clients send).
func (l *LabelSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		return l.UnmarshalJSON([]byte(s))
	}
	switch data[0] {
	case '[':
		var entries []map[string]string
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("labels: %w", err)
		}
		*l = entries
		return nil
	case '{':
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("labels: %w", err)
		}
		*l = FromMap(m)
		return nil
	}
	return fmt.Errorf("labels: unexpected JSON %q", data)
}

// FromMap converts a plain map into a LabelSet with one entry per key,
// sorted by key.
func FromMap(m map[string]string) LabelSet {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(LabelSet, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]string{k: m[k]})
	}
	return out
}

// SecretMap decodes secrets given either as an object or as a JSON string
// containing an object.
type SecretMap map[string]string

func (s *SecretMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw == "" {
			*s = nil
			return nil
		}
		data = []byte(raw)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	*s = m
	return nil
}
