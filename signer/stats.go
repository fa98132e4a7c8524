/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import "sync"

// Stats is a small mutex-guarded counter set, one per zone, observing the
// soft errors defined in the error-handling design (out-of-zone RRs,
// deduped duplicates). Hard errors are not counted here; they abort the
// run and are returned directly to the caller.
type Stats struct {
	mu          sync.Mutex
	OutOfZone   uint64
	Duplicates  uint64
	NewRRSIGs   uint64
	ReusedRRSIG uint64
}

func (s *Stats) incOutOfZone() {
	s.mu.Lock()
	s.OutOfZone++
	s.mu.Unlock()
}

func (s *Stats) incDuplicate() {
	s.mu.Lock()
	s.Duplicates++
	s.mu.Unlock()
}

func (s *Stats) incNewRRSIG(n uint64) {
	s.mu.Lock()
	s.NewRRSIGs += n
	s.mu.Unlock()
}

func (s *Stats) incReusedRRSIG(n uint64) {
	s.mu.Lock()
	s.ReusedRRSIG += n
	s.mu.Unlock()
}

// Snapshot returns a copy safe to read without holding the lock.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		OutOfZone:   s.OutOfZone,
		Duplicates:  s.Duplicates,
		NewRRSIGs:   s.NewRRSIGs,
		ReusedRRSIG: s.ReusedRRSIG,
	}
}
