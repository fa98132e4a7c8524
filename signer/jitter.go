/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"fmt"
	"hash/fnv"
	"time"

	"golang.org/x/exp/rand"
)

// jitterSeed derives a deterministic seed from (zone, owner, rrtype,
// keytag), per spec §5's reproducibility requirement. Grounded on
// tdns/sign.go's sigLifetime, which draws jitter from the package-level
// golang.org/x/exp/rand source; here we give every RRset+signer pair its
// own seeded *rand.Rand instead, so tests get byte-identical output and
// production can still swap in a true random source (design note §9).
func jitterSeed(zone, owner string, rrtype uint16, keytag uint16) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%d", zone, owner, rrtype, keytag)
	return h.Sum64()
}

// JitterSource produces the per-RRset+signer jitter offset used when
// computing RRSIG expiration (spec §4.F step 3). Implementations may
// swap in a real CSPRNG for production; the default is deterministic.
type JitterSource interface {
	Jitter(zone, owner string, rrtype uint16, keytag uint16, maxJitter time.Duration) time.Duration
}

// DeterministicJitter is the default JitterSource: reproducible given the
// same tuple, as required for the "signature reuse" testable property
// (spec §8) and for regression tests in general.
type DeterministicJitter struct{}

func (DeterministicJitter) Jitter(zone, owner string, rrtype uint16, keytag uint16, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	seed := jitterSeed(zone, owner, rrtype, keytag)
	r := rand.New(rand.NewSource(seed))
	span := int64(2*maxJitter) + 1
	offset := r.Int63n(span) - int64(maxJitter)
	return time.Duration(offset)
}
