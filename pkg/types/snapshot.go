package types

import "github.com/google/uuid"

// CopySnapshot returns an independent copy of s. A nil input yields an empty,
// non-nil slice so that stored rows always carry a snapshot.
func CopySnapshot(s []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(s))
	copy(out, s)
	return out
}

// AppendSnapshot returns base followed by delta. Neither input is modified.
// Duplicates are kept: appended commits are assumed disjoint from base.
func AppendSnapshot(base, delta []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(base)+len(delta))
	out = append(out, base...)
	return append(out, delta...)
}

// SubtractSnapshot returns the elements of s that do not occur in remove,
// preserving the order of s.
func SubtractSnapshot(s, remove []uuid.UUID) []uuid.UUID {
	drop := make(map[uuid.UUID]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(s))
	for _, id := range s {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
