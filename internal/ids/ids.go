package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces externally visible identifiers.
type Generator interface {
	NewID() string
}

// ULIDGenerator issues monotonic ULIDs. Identifiers minted by one generator
// sort lexically in creation order, including within the same millisecond.
type ULIDGenerator struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

// NewULIDGenerator returns a generator reading time from now (time.Now when nil).
func NewULIDGenerator(now func() time.Time) *ULIDGenerator {
	if now == nil {
		now = time.Now
	}
	return &ULIDGenerator{
		now:     now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewID returns a lexicographically sortable identifier suitable for storage keys.
func (g *ULIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

var defaultGenerator = NewULIDGenerator(nil)

// New returns an identifier from the process-wide generator.
func New() string {
	return defaultGenerator.NewID()
}

// Default returns the process-wide generator.
func Default() Generator {
	return defaultGenerator
}
