package order

import (
	"crypto/rand"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

// refAlphabet omits I, L, O and U so references survive being read aloud or
// hand-copied onto a package slip.
const refAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	refLength  = 8
	refPrefix  = "ORD-"
	refRetries = 32
)

// ErrRefExhausted is returned when the generator cannot produce a reference
// it has not already issued. With an 8-character alphabet-32 reference this
// indicates something badly wrong with the entropy source, not a full space.
var ErrRefExhausted = errors.New("order reference space exhausted")

// ReferenceGenerator produces human-readable, collision-resistant order
// references like "ORD-7F3K9Q2M". A Bloom filter remembers every reference
// this instance issued, so locally repeated candidates are skipped without a
// database round-trip. The orders.reference unique index stays the authority
// for cross-instance collisions; callers retry generation on ErrRefTaken.
type ReferenceGenerator struct {
	mu     sync.Mutex
	issued *bloom.BloomFilter
}

// NewReferenceGenerator creates a generator sized for n expected references.
func NewReferenceGenerator(n uint) *ReferenceGenerator {
	return &ReferenceGenerator{
		issued: bloom.NewWithEstimates(n, 0.001),
	}
}

// Next returns a fresh reference not previously issued by this generator.
func (g *ReferenceGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for range refRetries {
		ref, err := randomRef()
		if err != nil {
			return "", errors.Wrap(err, "generate reference")
		}
		if g.issued.TestString(ref) {
			continue
		}
		g.issued.AddString(ref)
		return ref, nil
	}
	return "", ErrRefExhausted
}

func randomRef() (string, error) {
	buf := make([]byte, refLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = refAlphabet[int(b)%len(refAlphabet)]
	}
	return refPrefix + string(buf), nil
}
