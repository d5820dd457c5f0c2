package dataset

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_DatasetGrowthAppendOnly validates that for any n1 <= n2,
// Ensure(n2) after Ensure(n1) leaves the first n1 buffers byte-identical,
// and that the cache never shrinks.
func TestProperty_DatasetGrowthAppendOnly(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("first n1 buffers unchanged after growth", prop.ForAll(
		func(n1, n2 int) bool {
			if n1 > n2 {
				n1, n2 = n2, n1
			}

			g := NewSeededGenerator(uint64(n1*31 + n2))
			first := g.Ensure(n1)

			snapshot := make([][]byte, n1)
			for i := 0; i < n1; i++ {
				snapshot[i] = bytes.Clone(first[i])
			}

			grown := g.Ensure(n2)
			if len(grown) != n2 {
				return false
			}
			for i := 0; i < n1; i++ {
				if !bytes.Equal(snapshot[i], grown[i]) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 6),
		gen.IntRange(1, 6),
	))

	properties.Property("repeated Ensure never shrinks the cache", prop.ForAll(
		func(sizes []int) bool {
			g := NewSeededGenerator(42)
			max := 0
			for _, n := range sizes {
				got := g.Ensure(n)
				if n > max {
					max = n
				}
				if len(got) != max {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
