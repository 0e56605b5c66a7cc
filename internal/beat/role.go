package beat

import (
	"slices"
)

// Role classifies a subdivision for playback.
type Role int

const (
	RoleNormal Role = iota
	RoleAccent
	RoleFirst
	RoleOff // switched-off subdivision, never sounds
)

func (r Role) String() string {
	switch r {
	case RoleNormal:
		return "normal"
	case RoleAccent:
		return "accent"
	case RoleFirst:
		return "first"
	case RoleOff:
		return "off"
	default:
		return "unknown"
	}
}

// Classify resolves the role of subdivision i. Membership in first wins
// over membership in accent.
func Classify(i int, first, accent map[int]struct{}) Role {
	if _, ok := first[i]; ok {
		return RoleFirst
	}
	if _, ok := accent[i]; ok {
		return RoleAccent
	}
	return RoleNormal
}

// RoleSet holds the first, accented and switched-off subdivision indices
// of a measure. It is immutable: every change returns a new RoleSet, so a
// snapshot can be read without locking while a writer builds the next one.
type RoleSet struct {
	first  map[int]struct{}
	accent map[int]struct{}
	off    map[int]struct{}
}

// DefaultRoles returns the role set used after every subdivision change:
// index 0 is the only first beat and nothing is accented.
func DefaultRoles() RoleSet {
	return RoleSet{
		first:  map[int]struct{}{0: {}},
		accent: map[int]struct{}{},
		off:    map[int]struct{}{},
	}
}

// NewRoleSet builds a role set for a measure of n subdivisions. Indices
// outside [0, n) are dropped and index 0 is always a first beat.
func NewRoleSet(n int, first, accent []int) RoleSet {
	rs := DefaultRoles()
	for _, i := range first {
		rs, _ = rs.WithFirst(n, i, true)
	}
	for _, i := range accent {
		if i >= 0 && i < n {
			rs.accent[i] = struct{}{}
		}
	}
	return rs
}

// Role returns the role of subdivision i. A switched-off index is RoleOff
// unless it is a first beat.
func (rs RoleSet) Role(i int) Role {
	if _, ok := rs.off[i]; ok && !rs.IsFirst(i) {
		return RoleOff
	}
	return Classify(i, rs.first, rs.accent)
}

// IsFirst reports whether i is a first beat.
func (rs RoleSet) IsFirst(i int) bool {
	_, ok := rs.first[i]
	return ok
}

// IsAccent reports whether i is accented.
func (rs RoleSet) IsAccent(i int) bool {
	_, ok := rs.accent[i]
	return ok
}

// IsOff reports whether i is switched off.
func (rs RoleSet) IsOff(i int) bool {
	_, ok := rs.off[i]
	return ok
}

// First returns the first-beat indices in ascending order.
func (rs RoleSet) First() []int { return sortedKeys(rs.first) }

// Accent returns the accented indices in ascending order.
func (rs RoleSet) Accent() []int { return sortedKeys(rs.accent) }

// Off returns the switched-off indices in ascending order.
func (rs RoleSet) Off() []int { return sortedKeys(rs.off) }

// WithAccentToggled flips the accent on index i of an n-subdivision
// measure. First beats and out-of-range indices are left alone; the second
// result reports whether anything changed.
func (rs RoleSet) WithAccentToggled(n, i int) (RoleSet, bool) {
	if i < 0 || i >= n || rs.IsFirst(i) {
		return rs, false
	}
	next := rs.clone()
	if _, ok := next.accent[i]; ok {
		delete(next.accent, i)
	} else {
		next.accent[i] = struct{}{}
		delete(next.off, i)
	}
	return next, true
}

// WithOffToggled switches index i of an n-subdivision measure off, or back
// on. Switching off clears an accent. First beats and out-of-range indices
// are left alone.
func (rs RoleSet) WithOffToggled(n, i int) (RoleSet, bool) {
	if i < 0 || i >= n || rs.IsFirst(i) {
		return rs, false
	}
	next := rs.clone()
	if _, ok := next.off[i]; ok {
		delete(next.off, i)
	} else {
		next.off[i] = struct{}{}
		delete(next.accent, i)
	}
	return next, true
}

// WithFirst marks index i of an n-subdivision measure as a first beat, or
// removes the mark. A first beat drops any accent or off state. Index 0
// always stays first and out-of-range indices are left alone.
func (rs RoleSet) WithFirst(n, i int, first bool) (RoleSet, bool) {
	if i < 0 || i >= n || (i == 0 && !first) || rs.IsFirst(i) == first {
		return rs, false
	}
	next := rs.clone()
	if first {
		next.first[i] = struct{}{}
		delete(next.accent, i)
		delete(next.off, i)
	} else {
		delete(next.first, i)
	}
	return next, true
}

func (rs RoleSet) clone() RoleSet {
	next := RoleSet{
		first:  make(map[int]struct{}, len(rs.first)),
		accent: make(map[int]struct{}, len(rs.accent)),
		off:    make(map[int]struct{}, len(rs.off)),
	}
	for i := range rs.first {
		next.first[i] = struct{}{}
	}
	for i := range rs.accent {
		next.accent[i] = struct{}{}
	}
	for i := range rs.off {
		next.off[i] = struct{}{}
	}
	return next
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
