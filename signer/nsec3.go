/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"fmt"
	"sort"

	"github.com/miekg/dns"
)

// sha1DigestLength is the raw (un-base32-encoded) NSEC3 hash length for
// algorithm 1; spec §4.C/§9 pin nsec3_algo to 1 (SHA-1) today.
const sha1DigestLength = 20

// buildNsec3Chain implements spec §4.E's NSEC3 mode. There is no teacher
// NSEC3 implementation to ground on (the corpus only has NSEC3 type
// constants, see SPEC_FULL.md §4.E); hashing uses miekg/dns's own
// dns.HashName, the ecosystem's RFC 5155 §5 primitive, rather than
// hand-rolling iterated SHA-1.
func buildNsec3Chain(v *WriteView, sc *SignConf, apex Name, owners []*Domain) error {
	v.ClearDenials()

	eligible := make([]*Domain, 0, len(owners))
	for _, owner := range owners {
		if sc.Denial.Nsec3Optout && isOptedOut(owner, owners) {
			continue
		}
		eligible = append(eligible, owner)
	}

	type hashed struct {
		hashName Name
		label    string // base32hex text, as dns.HashName returns it
		owner    *Domain
	}
	nodes := make([]hashed, 0, len(eligible))
	seen := make(map[string]*Domain, len(eligible))

	for _, owner := range eligible {
		label := dns.HashName(owner.Name.String(), sc.Denial.Nsec3Algo, sc.Denial.Nsec3Iterations, sc.Denial.Nsec3Salt)
		hashOwner := NewName(label + "." + apex.String())
		if existing, dup := seen[hashOwner.String()]; dup && !existing.Name.Equal(owner.Name) {
			return fmt.Errorf("%w: %s and %s both hash to %s", ErrHashCollision, existing.Name, owner.Name, hashOwner)
		}
		seen[hashOwner.String()] = owner
		nodes = append(nodes, hashed{hashName: hashOwner, label: label, owner: owner})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].hashName.Compare(nodes[j].hashName) < 0 })

	n := len(nodes)
	optOutFlag := uint8(0)
	if sc.Denial.Nsec3Optout {
		optOutFlag = 1
	}

	for i, node := range nodes {
		next := nodes[(i+1)%n]
		bitmap := node.owner.TypeBitmap(dns.TypeNSEC3)

		nsec3 := &dns.NSEC3{
			Hdr: dns.RR_Header{
				Name:   node.hashName.String(),
				Rrtype: dns.TypeNSEC3,
				Class:  dns.ClassINET,
				Ttl:    sc.Soa.SoaMin,
			},
			Hash:       sc.Denial.Nsec3Algo,
			Flags:      optOutFlag,
			Iterations: sc.Denial.Nsec3Iterations,
			SaltLength: uint8(len(sc.Denial.Nsec3Salt) / 2),
			Salt:       sc.Denial.Nsec3Salt,
			HashLength: sha1DigestLength,
			NextDomain: next.label,
			TypeBitMap: bitmap,
		}

		rs := &Rrset{Name: node.hashName.String(), RRtype: dns.TypeNSEC3, Ttl: sc.Soa.SoaMin, RRs: []dns.RR{nsec3}, Changed: true}
		v.SetDenial(&Denial{HashName: node.hashName, Rrset: rs, Changed: true, Origin: node.owner.Name})
		node.owner.DenialName = node.hashName
	}

	return setNsec3Param(v, sc, apex)
}

// isOptedOut implements spec §4.E's opt-out rule: unsigned delegations
// (NS, no DS, not apex) are excluded, as are ENTs with no signed
// descendant below them.
func isOptedOut(owner *Domain, all []*Domain) bool {
	if owner.IsUnsignedDelegation() {
		return true
	}
	if owner.IsEmptyNonTerminal() {
		for _, other := range all {
			if other == owner {
				continue
			}
			if other.Name.IsSubdomainOf(owner.Name) && !other.Name.Equal(owner.Name) {
				if !other.IsUnsignedDelegation() {
					return false
				}
			}
		}
		return true
	}
	return false
}

// setNsec3Param publishes the apex NSEC3PARAM RR, spec §4.E. Its flags
// field is always zero on the wire regardless of opt-out -- opt-out
// lives only in the NSEC3 RR's own flags.
func setNsec3Param(v *WriteView, sc *SignConf, apex Name) error {
	apexDomain, ok := v.LookupName(apex)
	if !ok {
		return fmt.Errorf("nsec3: apex %s missing from namedb", apex)
	}
	ttl := sc.Soa.SoaMin
	if sc.Denial.Nsec3ParamTtl != nil {
		ttl = *sc.Denial.Nsec3ParamTtl
	}
	param := &dns.NSEC3PARAM{
		Hdr: dns.RR_Header{
			Name:   apex.String(),
			Rrtype: dns.TypeNSEC3PARAM,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Hash:       sc.Denial.Nsec3Algo,
		Flags:      0,
		Iterations: sc.Denial.Nsec3Iterations,
		SaltLength: uint8(len(sc.Denial.Nsec3Salt) / 2),
		Salt:       sc.Denial.Nsec3Salt,
	}
	var changed bool
	if old, ok := apexDomain.RRtypes[dns.TypeNSEC3PARAM]; !ok || old.Ttl != ttl || len(old.RRs) == 0 || !dns.IsDuplicate(old.RRs[0], param) {
		changed = true
	}

	rs := v.getOrCloneRrset(apexDomain, dns.TypeNSEC3PARAM, ttl)
	rs.RRs = []dns.RR{param}
	rs.Ttl = ttl
	rs.Changed = changed
	return nil
}
