/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"sort"

	"github.com/miekg/dns"
)

// Rrset mirrors tdns/structs.go's RRset but adds the canonical-dedup and
// changed-tracking the denial/RRSIG pipeline needs.
type Rrset struct {
	Name    string // owner, canonical (lower-cased, fqdn)
	RRtype  uint16
	Ttl     uint32
	RRs     []dns.RR
	RRSIGs  []*dns.RRSIG
	Changed bool // drives incremental RRSIG regeneration, see rrsig.go
}

// AddRR inserts rr into the set, de-duplicating identical RRs (the
// Duplicate soft error case) and keeping RRs in canonical RDATA order so
// that RRSIG signing input (RFC 4034 §3.1.8.1) is deterministic.
func (rs *Rrset) AddRR(rr dns.RR) (added bool) {
	for _, existing := range rs.RRs {
		if dns.IsDuplicate(existing, rr) {
			return false
		}
	}
	rs.RRs = append(rs.RRs, rr)
	sortCanonicalRRs(rs.RRs)
	rs.Changed = true
	return true
}

// RemoveRR deletes a matching RR (by canonical RDATA equality). Returns
// whether anything was removed.
func (rs *Rrset) RemoveRR(rr dns.RR) bool {
	for i, existing := range rs.RRs {
		if dns.IsDuplicate(existing, rr) {
			rs.RRs = append(rs.RRs[:i], rs.RRs[i+1:]...)
			rs.Changed = true
			return true
		}
	}
	return false
}

func (rs *Rrset) Empty() bool { return len(rs.RRs) == 0 }

// sortCanonicalRRs orders RRs by their canonical wire-form RDATA bytes,
// the ordering RFC 4034 §6.3 requires inside an RRset's signing input.
func sortCanonicalRRs(rrs []dns.RR) {
	sort.Slice(rrs, func(i, j int) bool {
		return canonicalRRBytes(rrs[i]) < canonicalRRBytes(rrs[j])
	})
}

func canonicalRRBytes(rr dns.RR) string {
	c := dns.Copy(rr)
	c.Header().Name = dns.CanonicalName(c.Header().Name)
	buf := make([]byte, dns.Len(c)+64)
	n, err := dns.PackRR(c, buf, 0, nil, false)
	if err != nil {
		return c.String()
	}
	return string(buf[:n])
}

// typeCoexistsWithCname reports whether an RRset of type t may share an
// owner with a CNAME; used to enforce the "at most one CNAME, no other
// type except NSEC/NSEC3/RRSIG" invariant from spec §3.
func typeCoexistsWithCname(t uint16) bool {
	switch t {
	case dns.TypeCNAME, dns.TypeNSEC, dns.TypeNSEC3, dns.TypeRRSIG:
		return true
	default:
		return false
	}
}
