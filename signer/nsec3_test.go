/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"testing"

	"github.com/miekg/dns"
)

func baseNsec3SignConf() *SignConf {
	return &SignConf{
		Soa: SoaSection{SoaMin: 300},
		Denial: DenialConf{
			NsecType:        NsecTypeNSEC3,
			Nsec3Algo:       1,
			Nsec3Iterations: 1,
			Nsec3Salt:       "ab",
		},
	}
}

func TestBuildNsec3ChainWraparoundAndParam(t *testing.T) {
	db := NewNameDb(NewName("example.com."))
	v := db.OpenWriteView()
	defer v.Rollback()

	apex := v.AddName(NewName("example.com."))
	apex.IsApex = true
	addA(v, "a.example.com.")
	addA(v, "b.example.com.")

	sc := baseNsec3SignConf()
	owners := v.AllDomains()
	if err := buildNsec3Chain(v, sc, NewName("example.com."), owners); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	denials := v.FirstDenials()
	if len(denials) != len(owners) {
		t.Fatalf("expected one denial per owner, got %d for %d owners", len(denials), len(owners))
	}

	byHash := make(map[string]*Denial, len(denials))
	for _, d := range denials {
		byHash[d.HashName.String()] = d
	}
	visited := map[string]bool{}
	cur := denials[0]
	for i := 0; i < len(denials)+1 && !visited[cur.HashName.String()]; i++ {
		visited[cur.HashName.String()] = true
		nsec3 := cur.Rrset.RRs[0].(*dns.NSEC3)
		nextHash := NewName(nsec3.NextDomain + "." + "example.com.")
		next, ok := byHash[nextHash.String()]
		if !ok {
			t.Fatalf("NSEC3 points to unknown hash owner %s", nsec3.NextDomain)
		}
		cur = next
	}
	if len(visited) != len(denials) {
		t.Fatalf("expected full chain traversal, visited %d of %d", len(visited), len(denials))
	}

	apexDomain, _ := v.LookupName(NewName("example.com."))
	param, ok := apexDomain.RRtypes[dns.TypeNSEC3PARAM]
	if !ok || param.Empty() {
		t.Fatalf("expected NSEC3PARAM to be published at the apex")
	}
}

func TestNsec3OptOutExcludesUnsignedDelegation(t *testing.T) {
	db := NewNameDb(NewName("example.com."))
	v := db.OpenWriteView()
	defer v.Rollback()

	apex := v.AddName(NewName("example.com."))
	apex.IsApex = true
	addA(v, "signed.example.com.")

	delegated := v.AddName(NewName("unsigned.example.com."))
	ns, _ := dns.NewRR("unsigned.example.com. 300 IN NS ns1.unsigned.example.com.")
	v.getOrCloneRrset(delegated, dns.TypeNS, 300).AddRR(ns)

	sc := baseNsec3SignConf()
	sc.Denial.Nsec3Optout = true

	if err := buildNsec3Chain(v, sc, NewName("example.com."), v.AllDomains()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, d := range v.FirstDenials() {
		if d.Origin.Equal(NewName("unsigned.example.com.")) {
			t.Fatalf("expected unsigned delegation to be opted out of the NSEC3 chain")
		}
	}
}

func TestNsec3ParamChangedOnlyWhenContentDiffers(t *testing.T) {
	db := NewNameDb(NewName("example.com."))
	v := db.OpenWriteView()
	apex := v.AddName(NewName("example.com."))
	apex.IsApex = true
	addA(v, "a.example.com.")

	sc := baseNsec3SignConf()
	if err := buildNsec3Chain(v, sc, NewName("example.com."), v.AllDomains()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v.Commit()

	v2 := db.OpenWriteView()
	defer v2.Rollback()
	if err := setNsec3Param(v2, sc, NewName("example.com.")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	apexDomain, _ := v2.LookupName(NewName("example.com."))
	if apexDomain.RRtypes[dns.TypeNSEC3PARAM].Changed {
		t.Fatalf("expected NSEC3PARAM to not be marked changed when content is identical")
	}
}
