package dataset

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bencherr "github.com/kvbench/kvbench/internal/errors"
)

func TestEnsure_GeneratesRequestedSize(t *testing.T) {
	g := NewSeededGenerator(1)
	bufs := g.Ensure(3)
	require.Len(t, bufs, 3)

	for i, buf := range bufs {
		assert.GreaterOrEqual(t, len(buf), MinPayloadSize, "buffer %d too small", i)
		assert.Less(t, len(buf), MaxPayloadSize, "buffer %d too large", i)
	}
}

func TestEnsure_ContentIsAlphanumeric(t *testing.T) {
	g := NewSeededGenerator(2)
	bufs := g.Ensure(1)
	for _, b := range bufs[0] {
		ok := (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
		require.True(t, ok, "non-alphanumeric byte %q", b)
	}
}

func TestEnsure_GrowthIsAppendOnly(t *testing.T) {
	g := NewSeededGenerator(3)
	first := g.Ensure(2)
	head0, head1 := first[0], first[1]

	grown := g.Ensure(5)
	require.Len(t, grown, 5)

	// The original buffers must be the very same slices, not regenerated.
	assert.Same(t, &head0[0], &grown[0][0])
	assert.Same(t, &head1[0], &grown[1][0])
}

func TestEnsure_SmallerSizeIsNoOp(t *testing.T) {
	g := NewSeededGenerator(4)
	g.Ensure(4)
	bufs := g.Ensure(2)
	assert.Len(t, bufs, 4, "shrinking request must return the existing larger cache")
	assert.Equal(t, 4, g.Len())
}

func TestClear_BeforeGeneration(t *testing.T) {
	g := NewGenerator()
	err := g.Clear()
	require.Error(t, err)
	assert.True(t, errors.Is(err,
		bencherr.NewValidationError(bencherr.CodeDatasetNotInitialized, "")))
}

func TestClear_AfterEmptyEnsure(t *testing.T) {
	g := NewSeededGenerator(7)
	g.Ensure(0)

	// An empty Ensure generated nothing, so clearing is still premature.
	err := g.Clear()
	require.Error(t, err)
	assert.True(t, errors.Is(err,
		bencherr.NewValidationError(bencherr.CodeDatasetNotInitialized, "")))

	g.Ensure(1)
	require.NoError(t, g.Clear())
}

func TestClear_EmptiesCache(t *testing.T) {
	g := NewSeededGenerator(5)
	g.Ensure(3)
	require.NoError(t, g.Clear())
	assert.Equal(t, 0, g.Len())

	// Regeneration after clear starts from scratch.
	assert.Len(t, g.Ensure(2), 2)
}

func TestEnsure_ConcurrentGrowth(t *testing.T) {
	g := NewSeededGenerator(6)
	seed := g.Ensure(1)
	head := seed[0]

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Overlapping ranges from many goroutines.
			g.Ensure(10 + n%3)
		}(i)
	}
	wg.Wait()

	bufs := g.Ensure(0)
	assert.Equal(t, 12, len(bufs))
	// No duplicate generation of the already-present head buffer.
	assert.Same(t, &head[0], &bufs[0][0])
}
