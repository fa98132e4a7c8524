/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"context"

	"github.com/miekg/dns"
)

// DiffOp is one entry in the input adapter's stream, spec §6. An input
// adapter resolves $INCLUDE/$ORIGIN itself; by the time an RR reaches the
// core it is already canonical binary rdata.
type DiffOp struct {
	Remove bool
	RR     dns.RR
}

// InputAdapter produces one zone's diff stream at the start of a run.
// Grounded on tdns/zone_parser.go's master-file reading, adapted from "one
// full zone slurp" to an explicit add/remove stream per spec §6.
type InputAdapter interface {
	ReadDiff(ctx context.Context, zone Name) ([]DiffOp, error)
}

// OutputAdapter consumes the canonically ordered (owner, rrset) sequence
// a committed run produces, spec §6 and §4.G step 7.
type OutputAdapter interface {
	WriteRrset(ctx context.Context, owner Name, rs *Rrset) error
	Flush(ctx context.Context) error
}

// isDroppedAtBoundary reports whether rrtype is one of the core-owned
// types the input adapter boundary silently drops, spec §4.G step 1:
// NSEC/NSEC3/NSEC3PARAM/RRSIG are synthesized by the core, never ingested.
func isDroppedAtBoundary(rrtype uint16) bool {
	switch rrtype {
	case dns.TypeNSEC, dns.TypeNSEC3, dns.TypeNSEC3PARAM, dns.TypeRRSIG:
		return true
	default:
		return false
	}
}
