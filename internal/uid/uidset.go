package uid

import (
	"sort"
	"strings"
)

// Set is an ordered set of UIDs. The zero value is an empty, usable set.
//
// Contains uses binary search over an ascending slice, giving O(log n)
// lookups as required. Insert/Erase keep the slice sorted by shifting
// elements; this is O(n) rather than the O(log n) a balanced tree would
// give (see DESIGN.md — no ordered-tree container exists in the standard
// library or the grounding pack, and the bus sizes this controls are far
// below the threshold where that matters).
type Set struct {
	uids []UID
}

// NewSet builds a Set from the given UIDs.
func NewSet(uids ...UID) *Set {
	s := &Set{}
	for _, u := range uids {
		s.Insert(u)
	}
	return s
}

func (s *Set) search(u UID) (int, bool) {
	i := sort.Search(len(s.uids), func(i int) bool { return !s.uids[i].Less(u) })
	if i < len(s.uids) && s.uids[i] == u {
		return i, true
	}
	return i, false
}

// Contains reports whether u is a member of the set.
func (s *Set) Contains(u UID) bool {
	_, ok := s.search(u)
	return ok
}

// Insert adds u to the set. A no-op if already present.
func (s *Set) Insert(u UID) {
	i, ok := s.search(u)
	if ok {
		return
	}
	s.uids = append(s.uids, UID{})
	copy(s.uids[i+1:], s.uids[i:])
	s.uids[i] = u
}

// Erase removes u from the set. A no-op if not present.
func (s *Set) Erase(u UID) {
	i, ok := s.search(u)
	if !ok {
		return
	}
	s.uids = append(s.uids[:i], s.uids[i+1:]...)
}

// Size returns the number of UIDs in the set.
func (s *Set) Size() int { return len(s.uids) }

// Clear removes every UID from the set.
func (s *Set) Clear() { s.uids = s.uids[:0] }

// UIDs returns the UIDs in ascending order. The returned slice is owned by
// the caller and safe to mutate.
func (s *Set) UIDs() []UID {
	out := make([]UID, len(s.uids))
	copy(out, s.uids)
	return out
}

// Union returns a new Set containing every UID in s or other. Both
// operands are already sorted, so this merges them in a single O(n+m)
// walk rather than inserting one into a copy of the other.
func (s *Set) Union(other *Set) *Set {
	result := &Set{uids: make([]UID, 0, len(s.uids)+len(other.uids))}
	i, j := 0, 0
	for i < len(s.uids) && j < len(other.uids) {
		switch {
		case s.uids[i].Less(other.uids[j]):
			result.uids = append(result.uids, s.uids[i])
			i++
		case other.uids[j].Less(s.uids[i]):
			result.uids = append(result.uids, other.uids[j])
			j++
		default:
			result.uids = append(result.uids, s.uids[i])
			i++
			j++
		}
	}
	result.uids = append(result.uids, s.uids[i:]...)
	result.uids = append(result.uids, other.uids[j:]...)
	return result
}

// Difference returns a new Set containing the UIDs in s that are not in
// other, via the same O(n+m) merge walk as Union.
func (s *Set) Difference(other *Set) *Set {
	result := &Set{uids: make([]UID, 0, len(s.uids))}
	i, j := 0, 0
	for i < len(s.uids) && j < len(other.uids) {
		switch {
		case s.uids[i].Less(other.uids[j]):
			result.uids = append(result.uids, s.uids[i])
			i++
		case other.uids[j].Less(s.uids[i]):
			j++
		default:
			i++
			j++
		}
	}
	result.uids = append(result.uids, s.uids[i:]...)
	return result
}

// String renders the set as a comma-separated list of UID literals in
// ascending order.
func (s *Set) String() string {
	parts := make([]string, len(s.uids))
	for i, u := range s.uids {
		parts[i] = u.String()
	}
	return strings.Join(parts, ",")
}
