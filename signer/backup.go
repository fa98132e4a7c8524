/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"fmt"

	"github.com/miekg/dns"
)

// BackupSignature is one signature's provenance tuple, spec §6's "backup
// snapshot": enough to reconstruct or audit an RRSIG without re-deriving
// it from the oracle.
type BackupSignature struct {
	Owner       string
	CoveredType uint16
	KeyTag      uint16
	Algorithm   uint8
	Inception   uint32
	Expiration  uint32
	Signature   string // base64, as carried on dns.RRSIG.Signature
}

// BackupSnapshot is the optional, core-defined field list from spec §6;
// the core persists nothing itself, it only exposes this for outer code
// to serialize in whatever format it likes (text, binary, ...).
type BackupSnapshot struct {
	Zone         string
	Serial       SerialState
	Nsec3Param   *dns.NSEC3PARAM
	Signatures   []BackupSignature
}

// Snapshot builds a BackupSnapshot from the currently committed
// generation. Grounded on tdns/zone_utils.go's WriteZoneToFile in spirit
// (walk every owner, every rrset) but limited to the field list spec §6
// names rather than a full zone dump.
func Snapshot(db *NameDb) *BackupSnapshot {
	v := db.OpenReadView()
	snap := &BackupSnapshot{
		Zone:   db.ZoneName.String(),
		Serial: v.Serial(),
	}

	for _, d := range v.AllDomains() {
		if rs, ok := d.RRtypes[dns.TypeNSEC3PARAM]; ok && !rs.Empty() {
			if param, ok := rs.RRs[0].(*dns.NSEC3PARAM); ok {
				snap.Nsec3Param = param
			}
		}
		for _, rs := range d.RRtypes {
			snap.Signatures = append(snap.Signatures, signaturesOf(rs)...)
		}
	}
	for _, dn := range v.FirstDenials() {
		if dn.Rrset != nil {
			snap.Signatures = append(snap.Signatures, signaturesOf(dn.Rrset)...)
		}
	}
	return snap
}

func signaturesOf(rs *Rrset) []BackupSignature {
	out := make([]BackupSignature, 0, len(rs.RRSIGs))
	for _, sig := range rs.RRSIGs {
		out = append(out, BackupSignature{
			Owner:       rs.Name,
			CoveredType: sig.TypeCovered,
			KeyTag:      sig.KeyTag,
			Algorithm:   sig.Algorithm,
			Inception:   sig.Inception,
			Expiration:  sig.Expiration,
			Signature:   sig.Signature,
		})
	}
	return out
}

// Lines renders the snapshot as the ordered list of typed text lines spec
// §6 describes as one valid backup format; binary formats are equally
// valid and out of this package's scope.
func (b *BackupSnapshot) Lines() []string {
	lines := []string{
		fmt.Sprintf("zone %s", b.Zone),
		fmt.Sprintf("serial inbound=%d internal=%d outbound=%d", b.Serial.Inbound, b.Serial.Internal, b.Serial.Outbound),
	}
	if b.Nsec3Param != nil {
		lines = append(lines, fmt.Sprintf("nsec3param hash=%d flags=%d iterations=%d salt=%s",
			b.Nsec3Param.Hash, b.Nsec3Param.Flags, b.Nsec3Param.Iterations, b.Nsec3Param.Salt))
	}
	for _, sig := range b.Signatures {
		lines = append(lines, fmt.Sprintf("rrsig owner=%s type=%s keytag=%d algo=%d incep=%d expir=%d sig=%s",
			sig.Owner, dns.TypeToString[sig.CoveredType], sig.KeyTag, sig.Algorithm, sig.Inception, sig.Expiration, sig.Signature))
	}
	return lines
}
