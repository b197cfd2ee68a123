package provenance

import (
	"encoding/json"
	"slices"
	"strings"
)

// Stage names recorded by processing stages in the ledger.
const (
	StageCapture        = "capture"
	StageSegmentSeal    = "segment.seal"
	StageWindowMeta     = "window.meta"
	StageDerivedExtract = "derived.extract"
	StageDerivedInput   = "derived.input"
	StageDerivedAudio   = "derived.audio"
	StageDerivedCursor  = "derived.cursor"
	StageDerivedScreen  = "derived.screen_state"
)

// StageSet is an unordered set of stage names.
type StageSet map[string]struct{}

// NewStageSet builds a set from names.
func NewStageSet(names ...string) StageSet {
	s := make(StageSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts name.
func (s StageSet) Add(name string) {
	s[name] = struct{}{}
}

// Has reports whether name is in the set.
func (s StageSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Minus returns the stages in s that are not in other.
func (s StageSet) Minus(other StageSet) StageSet {
	out := make(StageSet)
	for n := range s {
		if !other.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

// Sorted returns the names in lexical order.
func (s StageSet) Sorted() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (s StageSet) String() string {
	return "{" + strings.Join(s.Sorted(), ", ") + "}"
}

// MarshalJSON emits a sorted array.
func (s StageSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}
