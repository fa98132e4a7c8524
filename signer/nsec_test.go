/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"testing"

	"github.com/miekg/dns"
)

func addA(v *WriteView, owner string) {
	d := v.AddName(NewName(owner))
	rr, _ := dns.NewRR(owner + " 300 IN A 192.0.2.1")
	v.getOrCloneRrset(d, dns.TypeA, 300).AddRR(rr)
}

func TestBuildNsecChainWraparound(t *testing.T) {
	db := NewNameDb(NewName("example.com."))
	v := db.OpenWriteView()
	defer v.Rollback()

	apex := v.AddName(NewName("example.com."))
	apex.IsApex = true
	soa, _ := dns.NewRR("example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 3600 600 604800 300")
	v.getOrCloneRrset(apex, dns.TypeSOA, 3600).AddRR(soa)
	addA(v, "a.example.com.")
	addA(v, "z.example.com.")

	sc := &SignConf{Soa: SoaSection{SoaMin: 300}}
	owners := v.AllDomains()
	if err := buildNsecChain(v, sc, owners); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	denials := v.FirstDenials()
	if len(denials) != len(owners) {
		t.Fatalf("expected one denial per owner, got %d denials for %d owners", len(denials), len(owners))
	}

	// Every denial's NextDomain must point at another owner in the set,
	// and following Next from any node must eventually return to itself
	// (chain closure, spec §8).
	byOwner := make(map[string]*Denial, len(denials))
	for _, d := range denials {
		byOwner[d.HashName.String()] = d
	}
	start := denials[0]
	cur := start
	visited := map[string]bool{}
	for i := 0; i < len(denials)+1; i++ {
		if visited[cur.HashName.String()] {
			break
		}
		visited[cur.HashName.String()] = true
		nsec := cur.Rrset.RRs[0].(*dns.NSEC)
		next, ok := byOwner[NewName(nsec.NextDomain).String()]
		if !ok {
			t.Fatalf("NSEC at %s points to unknown owner %s", cur.HashName, nsec.NextDomain)
		}
		cur = next
	}
	if len(visited) != len(denials) {
		t.Fatalf("expected chain to visit all %d nodes, visited %d", len(denials), len(visited))
	}
	if cur.HashName.String() != start.HashName.String() {
		t.Fatalf("expected chain to wrap back to the start")
	}
}

func TestBuildNsecChainBitmapIncludesRrsigAndNsec(t *testing.T) {
	db := NewNameDb(NewName("example.com."))
	v := db.OpenWriteView()
	defer v.Rollback()

	apex := v.AddName(NewName("example.com."))
	apex.IsApex = true
	addA(v, "example.com.")

	sc := &SignConf{Soa: SoaSection{SoaMin: 300}}
	if err := buildNsecChain(v, sc, v.AllDomains()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, d := range v.FirstDenials() {
		nsec := d.Rrset.RRs[0].(*dns.NSEC)
		hasNsec, hasRrsig := false, false
		for _, bit := range nsec.TypeBitMap {
			if bit == dns.TypeNSEC {
				hasNsec = true
			}
			if bit == dns.TypeRRSIG {
				hasRrsig = true
			}
		}
		if !hasNsec || !hasRrsig {
			t.Errorf("expected bitmap at %s to include NSEC and RRSIG, got %v", d.HashName, nsec.TypeBitMap)
		}
	}
}
