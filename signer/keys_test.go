/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"testing"

	"github.com/miekg/dns"
)

func TestKeyListAddDuplicateLocator(t *testing.T) {
	var kl KeyList
	if err := kl.Add(Key{Locator: "ksk1", Ksk: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := kl.Add(Key{Locator: "ksk1", Ksk: true}); err == nil {
		t.Fatalf("expected duplicate locator to be rejected")
	}
}

func TestKeyListFilters(t *testing.T) {
	var kl KeyList
	kl.Add(Key{Locator: "ksk1", Ksk: true, Publish: true})
	kl.Add(Key{Locator: "zsk1", Zsk: true, Publish: true})
	kl.Add(Key{Locator: "zsk2", Zsk: true, Publish: false})

	if len(kl.KSKs()) != 1 {
		t.Errorf("expected 1 KSK, got %d", len(kl.KSKs()))
	}
	if len(kl.ZSKs()) != 2 {
		t.Errorf("expected 2 ZSKs, got %d", len(kl.ZSKs()))
	}
	if len(kl.Published()) != 2 {
		t.Errorf("expected 2 published keys, got %d", len(kl.Published()))
	}
}

func TestKeyDnskeyRROverrideWins(t *testing.T) {
	k := Key{
		Locator:                "ksk1",
		ResourceRecordOverride: "example.com. 3600 IN DNSKEY 257 3 13 AwEAAa==",
		DnskeyRR: &dns.DNSKEY{
			Hdr:       dns.RR_Header{Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET},
			Flags:     256,
			Protocol:  3,
			Algorithm: dns.ECDSAP256SHA256,
			PublicKey: "AwEAAa==",
		},
	}
	rr, err := k.dnskeyRR(7200, NewName("example.com."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Hdr.Ttl != 7200 {
		t.Errorf("expected override TTL to be stamped to requested ttl, got %d", rr.Hdr.Ttl)
	}
	if rr.Flags != 257 {
		t.Errorf("expected override flags preserved, got %d", rr.Flags)
	}
}

func TestKeyDnskeyRRFromOracle(t *testing.T) {
	k := Key{
		Locator: "zsk1",
		DnskeyRR: &dns.DNSKEY{
			Hdr:       dns.RR_Header{Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET},
			Flags:     256,
			Protocol:  3,
			Algorithm: dns.ECDSAP256SHA256,
			PublicKey: "AwEAAa==",
		},
	}
	zone := NewName("example.com.")
	rr, err := k.dnskeyRR(3600, zone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.Hdr.Name != zone.String() {
		t.Errorf("expected owner name stamped to zone, got %s", rr.Hdr.Name)
	}
	if rr.Hdr.Ttl != 3600 {
		t.Errorf("expected ttl 3600, got %d", rr.Hdr.Ttl)
	}
}

func TestKeyDnskeyRRMissing(t *testing.T) {
	k := Key{Locator: "nope"}
	if _, err := k.dnskeyRR(3600, NewName("example.com.")); err == nil {
		t.Fatalf("expected an error when neither override nor oracle DNSKEY is set")
	}
}
