/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// signersFor implements spec §4.F step 1: DNSKEY RRsets are signed by
// every KSK, everything else by every ZSK. Grounded on tdns/sign.go's
// SignRRset, which picks dak.KSKs vs dak.ZSKs on the same type test.
func signersFor(rrtype uint16, keys *KeyList) []Key {
	if rrtype == dns.TypeDNSKEY {
		return keys.KSKs()
	}
	return keys.ZSKs()
}

// validityFor picks the sig_validity_* bucket an RRset falls into, per
// spec §4.C/§4.F.
func validityFor(sc *SignConf, rrtype uint16) time.Duration {
	switch rrtype {
	case dns.TypeDNSKEY:
		return sc.EffectiveKeysetValidity()
	case dns.TypeNSEC, dns.TypeNSEC3:
		return sc.SigValidityDenial
	default:
		return sc.SigValidityDefault
	}
}

// needsResigning implements spec §4.F step 2's reuse rule: a signature is
// kept as long as more than sig_refresh_interval remains before it
// expires. Grounded on tdns/sign.go's NeedsResigning, generalized from a
// hardcoded "3 resigning intervals" to the configured refresh interval.
func needsResigning(rrsig *dns.RRSIG, now uint32, refresh time.Duration) bool {
	remaining := int64(rrsig.Expiration) - int64(now)
	return remaining <= int64(refresh.Seconds())
}

// labelCount returns the RRSIG Labels field value for name: the number of
// labels, not counting the root, and not counting a leftmost wildcard
// label (RFC 4034 §3.1.3).
func labelCount(name string) uint8 {
	labels := dns.SplitDomainName(name)
	if len(labels) > 0 && labels[0] == "*" {
		return uint8(len(labels) - 1)
	}
	return uint8(len(labels))
}

// signingInput builds the RFC 4034 §3.1.8.1 octet stream an RRSIG covers:
// the RRSIG RDATA fields up to but excluding Signature, followed by every
// covered RR in canonical form (owner name lower-cased, original TTL
// substituted, RDATA as packed on the wire), in RFC 4034 §6.3 order. The
// oracle never sees anything but these bytes plus a locator -- no private
// key material crosses into this package.
func signingInput(rrsig *dns.RRSIG, rrs []dns.RR) ([]byte, error) {
	var buf bytes.Buffer

	nameBuf := make([]byte, 255)
	n, err := dns.PackDomainName(dns.CanonicalName(rrsig.SignerName), nameBuf, 0, nil, false)
	if err != nil {
		return nil, fmt.Errorf("signingInput: pack signer name: %w", err)
	}

	var hdr [18]byte
	binary.BigEndian.PutUint16(hdr[0:2], rrsig.TypeCovered)
	hdr[2] = rrsig.Algorithm
	hdr[3] = rrsig.Labels
	binary.BigEndian.PutUint32(hdr[4:8], rrsig.OrigTtl)
	binary.BigEndian.PutUint32(hdr[8:12], rrsig.Expiration)
	binary.BigEndian.PutUint32(hdr[12:16], rrsig.Inception)
	binary.BigEndian.PutUint16(hdr[16:18], rrsig.KeyTag)
	buf.Write(hdr[:])
	buf.Write(nameBuf[:n])

	ordered := append([]dns.RR(nil), rrs...)
	sortCanonicalRRs(ordered)

	for _, rr := range ordered {
		c := dns.Copy(rr)
		c.Header().Name = dns.CanonicalName(c.Header().Name)
		c.Header().Ttl = rrsig.OrigTtl
		c.Header().Class = dns.ClassINET
		packed := make([]byte, dns.Len(c)+64)
		n, err := dns.PackRR(c, packed, 0, nil, false)
		if err != nil {
			return nil, fmt.Errorf("signingInput: pack RR %s: %w", c.Header().Name, err)
		}
		buf.Write(packed[:n])
	}
	return buf.Bytes(), nil
}

// SignRrset implements spec §4.F in full: pick the signer set, reuse any
// still-fresh RRSIG by a key still in that set, drop RRSIGs by keys no
// longer present, and generate a fresh signature via the oracle for every
// signer left uncovered. force replays every signer regardless of
// remaining lifetime (spec §4.F "force resign").
//
// Invariants enforced: no two kept-or-generated RRSIGs share a key_tag
// (signers is already locator-unique, see KeyList.Add), every RRSIG's Ttl
// equals the covered RRset's Ttl, and a DNSKEY RRset always ends up with
// at least one KSK-produced RRSIG (sc.Validate rejects a keyless,
// non-passthrough SignConf before this is ever reached).
func SignRrset(ctx context.Context, oracle SigningOracle, jitter JitterSource, clock Clock, sc *SignConf, zone Name, stats *Stats, rs *Rrset, force bool) error {
	if rs.Empty() {
		return nil
	}

	signers := signersFor(rs.RRtype, &sc.Dnskey.Keys)
	if len(signers) == 0 {
		if rs.RRtype == dns.TypeDNSKEY {
			return fmt.Errorf("%w: no KSK available to sign DNSKEY RRset at %s", ErrConfigInvalid, rs.Name)
		}
		return fmt.Errorf("%w: no ZSK available to sign %s RRset at %s", ErrConfigInvalid, dns.TypeToString[rs.RRtype], rs.Name)
	}

	tagOf := make(map[uint16]Key, len(signers))
	for _, key := range signers {
		dnskey, err := key.dnskeyRR(sc.Dnskey.DnskeyTtl, zone)
		if err != nil {
			return err
		}
		tagOf[dnskey.KeyTag()] = key
	}

	now := clock.NowSeconds()
	validity := validityFor(sc, rs.RRtype)

	kept := make([]*dns.RRSIG, 0, len(rs.RRSIGs))
	covered := make(map[uint16]bool, len(signers))
	for _, oldsig := range rs.RRSIGs {
		if _, stillSigner := tagOf[oldsig.KeyTag]; !stillSigner {
			continue // key retired or removed: drop, spec §4.F step 2
		}
		if !force && !needsResigning(oldsig, now, sc.SigRefreshInterval) {
			kept = append(kept, oldsig)
			covered[oldsig.KeyTag] = true
		}
	}
	if stats != nil {
		stats.incReusedRRSIG(uint64(len(kept)))
	}

	var fresh uint64
	for tag, key := range tagOf {
		if covered[tag] {
			continue
		}

		rrsig := &dns.RRSIG{
			Hdr: dns.RR_Header{
				Name:   rs.Name,
				Rrtype: dns.TypeRRSIG,
				Class:  dns.ClassINET,
				Ttl:    rs.Ttl,
			},
			TypeCovered: rs.RRtype,
			Algorithm:   key.Algorithm,
			Labels:      labelCount(rs.Name),
			OrigTtl:     rs.Ttl,
			KeyTag:      tag,
			SignerName:  zone.String(),
		}

		jit := jitter.Jitter(zone.String(), rs.Name, rs.RRtype, tag, sc.SigJitter)
		rrsig.Inception = uint32(int64(now) - int64(sc.SigInceptionOffset.Seconds()))
		rrsig.Expiration = uint32(int64(now) + int64(validity.Seconds()) + int64(jit.Seconds()))

		input, err := signingInput(rrsig, rs.RRs)
		if err != nil {
			return err
		}
		raw, err := oracle.Sign(ctx, key.Locator, key.Algorithm, input)
		if err != nil {
			return fmt.Errorf("%w: locator %s: %v", ErrOracleUnavailable, key.Locator, err)
		}
		rrsig.Signature = base64.StdEncoding.EncodeToString(raw)

		kept = append(kept, rrsig)
		fresh++
	}
	if stats != nil {
		stats.incNewRRSIG(fresh)
	}

	if fresh > 0 || len(kept) != len(rs.RRSIGs) {
		rs.Changed = true
	}
	rs.RRSIGs = kept
	return nil
}
