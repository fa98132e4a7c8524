/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"fmt"

	"github.com/miekg/dns"
)

// Key is an opaque handle into the signing oracle, plus the publication
// flags from spec §4.D. Grounded on tdns/structs.go's PrivateKeyCache,
// stripped of any private-key material -- the core never sees it.
type Key struct {
	Locator   string
	Algorithm uint8
	Flags     uint16
	Publish   bool
	Ksk       bool
	Zsk       bool

	DnskeyRR                *dns.DNSKEY // synthesized via the oracle, or...
	ResourceRecordOverride  string       // ...a literal RR string; this wins if both set
}

// dnskeyRR resolves the effective DNSKEY RR for this key, preferring a
// literal override when present (spec §4.D).
func (k *Key) dnskeyRR(ttl uint32, zone Name) (*dns.DNSKEY, error) {
	if k.ResourceRecordOverride != "" {
		rr, err := dns.NewRR(k.ResourceRecordOverride)
		if err != nil {
			return nil, fmt.Errorf("key %s: invalid resource_record_override: %w", k.Locator, err)
		}
		dnskey, ok := rr.(*dns.DNSKEY)
		if !ok {
			return nil, fmt.Errorf("key %s: resource_record_override is not a DNSKEY", k.Locator)
		}
		dnskey.Hdr.Ttl = ttl
		return dnskey, nil
	}
	if k.DnskeyRR == nil {
		return nil, fmt.Errorf("key %s: no DNSKEY available (neither oracle-synthesized nor literal)", k.Locator)
	}
	cp := *k.DnskeyRR
	cp.Hdr.Name = zone.String()
	cp.Hdr.Ttl = ttl
	cp.Hdr.Rrtype = dns.TypeDNSKEY
	cp.Hdr.Class = dns.ClassINET
	return &cp, nil
}

// KeyList is an ordered list of Key with locator uniqueness, spec §4.D.
type KeyList struct {
	Keys []Key
}

// Add appends a key, rejecting a duplicate locator.
func (kl *KeyList) Add(k Key) error {
	for _, existing := range kl.Keys {
		if existing.Locator == k.Locator {
			return fmt.Errorf("keylist: duplicate locator %q", k.Locator)
		}
	}
	kl.Keys = append(kl.Keys, k)
	return nil
}

// KSKs returns every key flagged as a KSK.
func (kl *KeyList) KSKs() []Key {
	var out []Key
	for _, k := range kl.Keys {
		if k.Ksk {
			out = append(out, k)
		}
	}
	return out
}

// ZSKs returns every key flagged as a ZSK.
func (kl *KeyList) ZSKs() []Key {
	var out []Key
	for _, k := range kl.Keys {
		if k.Zsk {
			out = append(out, k)
		}
	}
	return out
}

// Published returns every key flagged for DNSKEY publication.
func (kl *KeyList) Published() []Key {
	var out []Key
	for _, k := range kl.Keys {
		if k.Publish {
			out = append(out, k)
		}
	}
	return out
}
