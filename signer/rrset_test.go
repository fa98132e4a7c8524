/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"testing"

	"github.com/miekg/dns"
)

func TestRrsetAddRrDedup(t *testing.T) {
	rs := &Rrset{Name: "example.com.", RRtype: dns.TypeA}
	a1, _ := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	a2, _ := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	a3, _ := dns.NewRR("example.com. 300 IN A 192.0.2.2")

	if !rs.AddRR(a1) {
		t.Fatalf("expected first AddRR to succeed")
	}
	if rs.AddRR(a2) {
		t.Fatalf("expected duplicate AddRR to be rejected")
	}
	if !rs.AddRR(a3) {
		t.Fatalf("expected distinct AddRR to succeed")
	}
	if len(rs.RRs) != 2 {
		t.Fatalf("expected 2 RRs, got %d", len(rs.RRs))
	}
}

func TestRrsetRemoveRr(t *testing.T) {
	rs := &Rrset{Name: "example.com.", RRtype: dns.TypeA}
	a1, _ := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	rs.AddRR(a1)
	rs.Changed = false

	a1dup, _ := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	if !rs.RemoveRR(a1dup) {
		t.Fatalf("expected RemoveRR to find the matching record")
	}
	if !rs.Empty() {
		t.Fatalf("expected Rrset to be empty after removing its only record")
	}
	if !rs.Changed {
		t.Fatalf("expected Changed to be set after a removal")
	}
}

func TestRrsetCanonicalOrder(t *testing.T) {
	rs := &Rrset{Name: "example.com.", RRtype: dns.TypeA}
	a2, _ := dns.NewRR("example.com. 300 IN A 192.0.2.2")
	a1, _ := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	rs.AddRR(a2)
	rs.AddRR(a1)

	first := canonicalRRBytes(rs.RRs[0])
	second := canonicalRRBytes(rs.RRs[1])
	if first >= second {
		t.Fatalf("expected RRs sorted by canonical RDATA bytes, got %q then %q", first, second)
	}
}

func TestTypeCoexistsWithCname(t *testing.T) {
	for _, rrtype := range []uint16{dns.TypeCNAME, dns.TypeNSEC, dns.TypeNSEC3, dns.TypeRRSIG} {
		if !typeCoexistsWithCname(rrtype) {
			t.Errorf("expected type %d to coexist with CNAME", rrtype)
		}
	}
	if typeCoexistsWithCname(dns.TypeA) {
		t.Errorf("did not expect A to coexist with CNAME")
	}
}
