/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"sort"

	"github.com/miekg/dns"
)

// Domain is the in-memory representation of one authoritative owner name,
// grounded on tdns/structs.go's OwnerData but generalized with an explicit
// parent back-reference and ENT/apex flags per spec §3.
//
// ParentName/DenialName are non-owning indices (design note in spec §9):
// they name another entry in the same NameDb generation and are resolved
// through a View, never held as a live pointer across generations.
type Domain struct {
	Name       Name
	RRtypes    map[uint16]*Rrset
	ParentName Name
	IsApex     bool
	DenialName Name // hash_name of this domain's denial node, "" if none
}

func newDomain(name Name, isApex bool) *Domain {
	return &Domain{
		Name:    name,
		RRtypes: make(map[uint16]*Rrset),
		IsApex:  isApex,
	}
}

// clone returns a shallow copy suitable for copy-on-write into a new
// generation: the RRtypes map is copied (so mutating one generation's
// Rrset pointers never corrupts another), but individual *Rrset values
// are shared until a WriteView touches them through
// WriteView.getOrCloneRrset, which replaces the map entry with a private
// copy.
func (d *Domain) clone() *Domain {
	cp := &Domain{
		Name:       d.Name,
		RRtypes:    make(map[uint16]*Rrset, len(d.RRtypes)),
		ParentName: d.ParentName,
		IsApex:     d.IsApex,
		DenialName: d.DenialName,
	}
	for t, rs := range d.RRtypes {
		cp.RRtypes[t] = rs
	}
	return cp
}

// IsEmptyNonTerminal reports whether this domain carries no RRsets at
// all (an ENT per the glossary).
func (d *Domain) IsEmptyNonTerminal() bool {
	return len(d.RRtypes) == 0
}

// HasCname reports whether this domain carries a CNAME RRset.
func (d *Domain) HasCname() bool {
	_, ok := d.RRtypes[dns.TypeCNAME]
	return ok
}

// HasNS reports whether this domain carries an NS RRset (a candidate
// delegation point).
func (d *Domain) HasNS() bool {
	rs, ok := d.RRtypes[dns.TypeNS]
	return ok && !rs.Empty()
}

// HasDS reports whether this domain carries a DS RRset (a signed
// delegation, as opposed to an unsigned one eligible for NSEC3 opt-out).
func (d *Domain) HasDS() bool {
	rs, ok := d.RRtypes[dns.TypeDS]
	return ok && !rs.Empty()
}

// IsUnsignedDelegation reports whether d is a non-apex owner with NS but
// no DS: the opt-out-eligible case from spec §4.E.
func (d *Domain) IsUnsignedDelegation() bool {
	return !d.IsApex && d.HasNS() && !d.HasDS()
}

// TypeBitmap returns the sorted list of RR types present at this owner,
// used both for NSEC/NSEC3 bitmap construction (§4.E) and for the
// bitmap-completeness testable property (§8). covering is the
// NSEC-or-NSEC3 type bit to always add.
func (d *Domain) TypeBitmap(covering uint16) []uint16 {
	types := make([]uint16, 0, len(d.RRtypes)+2)
	seen := map[uint16]bool{}
	add := func(t uint16) {
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	for t, rs := range d.RRtypes {
		if rs.Empty() {
			continue
		}
		add(t)
	}
	add(covering)
	add(dns.TypeRRSIG)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
