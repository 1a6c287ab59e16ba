package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// KindSet is a set of alert kinds. The JSON form is a sorted array of kind
// names, matching the persisted representation.
type KindSet map[AlertKind]struct{}

// NewKindSet builds a set from the given kinds.
func NewKindSet(kinds ...AlertKind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// Contains reports whether the kind is in the set.
func (s KindSet) Contains(k AlertKind) bool {
	_, ok := s[k]
	return ok
}

// Slice returns the kinds sorted by name, for stable serialization.
func (s KindSet) Slice() []AlertKind {
	out := make([]AlertKind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted array of kind names.
func (s KindSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array of kind names, rejecting unknown kinds.
func (s *KindSet) UnmarshalJSON(data []byte) error {
	var names []AlertKind
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set := make(KindSet, len(names))
	for _, k := range names {
		if !k.Valid() {
			return fmt.Errorf("unknown alert kind %q", k)
		}
		set[k] = struct{}{}
	}
	*s = set
	return nil
}
