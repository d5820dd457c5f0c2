// Package dataset provides a lock-guarded, growable cache of random binary
// payloads shared across benchmark invocations.
package dataset

import (
	"math/rand/v2"
	"sync"

	"github.com/kvbench/kvbench/internal/errors"
)

// Payload size bounds in bytes. Each cached buffer is a random alphanumeric
// string between MinPayloadSize (inclusive) and MaxPayloadSize (exclusive).
const (
	MinPayloadSize = 100_000
	MaxPayloadSize = 300_000
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator owns the process-wide dataset cache. Growth is monotonic and
// append-only: Ensure never regenerates or shrinks existing buffers. All
// access is serialized by the mutex, so concurrent callers observe
// linearizable effects.
type Generator struct {
	mu          sync.Mutex
	buffers     [][]byte
	initialized bool
	rng         *rand.Rand
}

// NewGenerator creates an empty dataset generator.
func NewGenerator() *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// NewSeededGenerator creates a generator with a fixed seed for
// reproducible benchmark datasets.
func NewSeededGenerator(seed uint64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(seed, seed)),
	}
}

// Ensure grows the cache to at least size buffers, generating only the
// missing tail, and returns the whole cache. A call with a smaller or equal
// size is a no-op returning the existing (possibly larger) cache; callers
// needing an exact batch size must slice the result. The returned slice is
// shared and must not be mutated.
func (g *Generator) Ensure(size int) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	// An empty request generates nothing and does not count as generation.
	if size > 0 {
		g.initialized = true
	}
	for i := len(g.buffers); i < size; i++ {
		n := MinPayloadSize + g.rng.IntN(MaxPayloadSize-MinPayloadSize)
		buf := make([]byte, n)
		for j := range buf {
			buf[j] = alphanumeric[g.rng.IntN(len(alphanumeric))]
		}
		g.buffers = append(g.buffers, buf)
	}
	return g.buffers
}

// Clear empties the cache. Clearing a generator that has never generated
// anything is a precondition violation.
func (g *Generator) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		return errors.NewValidationError(errors.CodeDatasetNotInitialized,
			"clear called before any dataset generation")
	}
	g.buffers = nil
	return nil
}

// Len reports the current number of cached buffers.
func (g *Generator) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffers)
}
