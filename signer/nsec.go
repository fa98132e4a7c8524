/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import "github.com/miekg/dns"

// buildNsecChain implements spec §4.E's NSEC mode: one denial node per
// eligible owner, hash_name == owner, linked in canonical order with
// wraparound. Grounded directly on tdns/sign.go's GenerateNsecChain
// (bitmap via sorted int slice, next computed as (idx+1)%len(names)) and
// tdns/nsec.go's ComputeNsec, generalized from "every owner" to "every
// eligible owner" (opt-out does not apply in NSEC mode).
func buildNsecChain(v *WriteView, sc *SignConf, owners []*Domain) error {
	v.ClearDenials()

	n := len(owners)
	for i, owner := range owners {
		next := owners[(i+1)%n]
		bitmap := owner.TypeBitmap(dns.TypeNSEC)

		nsec := &dns.NSEC{
			Hdr: dns.RR_Header{
				Name:   owner.Name.String(),
				Rrtype: dns.TypeNSEC,
				Class:  dns.ClassINET,
				Ttl:    sc.Soa.SoaMin,
			},
			NextDomain: next.Name.String(),
			TypeBitMap: bitmap,
		}

		rs := &Rrset{Name: owner.Name.String(), RRtype: dns.TypeNSEC, Ttl: sc.Soa.SoaMin, RRs: []dns.RR{nsec}, Changed: true}
		v.SetDenial(&Denial{HashName: owner.Name, Rrset: rs, Changed: true, Origin: owner.Name})
		owner.DenialName = owner.Name
	}
	return nil
}
