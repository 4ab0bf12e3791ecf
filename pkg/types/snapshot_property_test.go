package types

import (
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// commitIDs maps small integers to stable commit ids so generated snapshots
// can share elements.
func commitIDs(ns []int) []uuid.UUID {
	out := make([]uuid.UUID, len(ns))
	for i, n := range ns {
		out[i] = uuid.NewSHA1(uuid.NameSpaceOID, []byte(strconv.Itoa(n)))
	}
	return out
}

func TestProperty_SnapshotAlgebra(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("append keeps base as prefix and delta as suffix", prop.ForAll(
		func(a, b []int) bool {
			base, delta := commitIDs(a), commitIDs(b)
			out := AppendSnapshot(base, delta)
			if len(out) != len(base)+len(delta) {
				return false
			}
			for i := range base {
				if out[i] != base[i] {
					return false
				}
			}
			for i := range delta {
				if out[len(base)+i] != delta[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.SliceOf(gen.IntRange(0, 40)),
	))

	properties.Property("subtracting the base of an append yields the delta", prop.ForAll(
		func(a, b []int) bool {
			base := commitIDs(a)
			// delta drawn from a disjoint range
			shifted := make([]int, len(b))
			for i, n := range b {
				shifted[i] = n + 1000
			}
			delta := commitIDs(shifted)
			got := SubtractSnapshot(AppendSnapshot(base, delta), base)
			if len(got) != len(delta) {
				return false
			}
			for i := range delta {
				if got[i] != delta[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.SliceOf(gen.IntRange(0, 40)),
	))

	properties.Property("append does not alias its inputs", prop.ForAll(
		func(a, b []int) bool {
			base := commitIDs(a)
			if len(base) == 0 {
				return true
			}
			first := base[0]
			out := AppendSnapshot(base, commitIDs(b))
			out[0] = uuid.Nil
			return base[0] == first
		},
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.SliceOf(gen.IntRange(0, 40)),
	))

	properties.TestingRun(t)
}
