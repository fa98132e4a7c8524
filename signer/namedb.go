/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/miekg/dns"
)

// SerialState tracks the SOA serial triple from spec §3 ("NameDb"
// invariants) plus the optional external override used by the serial
// policy engine (§4.G step 5).
type SerialState struct {
	Inbound    uint32
	Internal   uint32
	Outbound   uint32
	HaveSerial bool
	Forced     *uint32
}

// generation is one immutable snapshot of a zone's authoritative and
// denial data. NameDb always points at the currently committed
// generation; a WriteView works on a private clone and publishes it by
// swapping the pointer on Commit, giving exactly the "view opened before
// commit sees pre-commit state, view opened after sees post-commit
// state" guarantee from spec §4.B without per-domain locking.
type generation struct {
	auth        map[string]*Domain
	authOrder   []Name // canonically ascending
	denials     map[string]*Denial
	denialOrder []Name // ascending by hash_name
	serial      SerialState
}

func newGeneration() *generation {
	return &generation{
		auth:    make(map[string]*Domain),
		denials: make(map[string]*Denial),
	}
}

func (g *generation) clone() *generation {
	cp := &generation{
		auth:        make(map[string]*Domain, len(g.auth)),
		authOrder:   append([]Name(nil), g.authOrder...),
		denials:     make(map[string]*Denial, len(g.denials)),
		denialOrder: append([]Name(nil), g.denialOrder...),
		serial:      g.serial,
	}
	for k, v := range g.auth {
		cp.auth[k] = v.clone()
	}
	for k, v := range g.denials {
		cp.denials[k] = v
	}
	return cp
}

// NameDb is one zone's name database: the ordered map of authoritative
// owner names to Domain (§3 "auth"), the separate ordered map of denial
// nodes (§3 "denials"), and the SOA serial triple. Grounded on
// tdns/structs.go's ZoneData, split out of the daemon-specific fields
// the teacher keeps alongside it.
type NameDb struct {
	mu        sync.Mutex // single-writer-per-zone, per spec §4.B / §5
	genMu     sync.Mutex // guards committed only, so readers never wait on a writer
	ZoneName  Name
	committed *generation
	writeOpen bool
}

// NewNameDb creates an empty NameDb for the given zone apex.
func NewNameDb(apex Name) *NameDb {
	return &NameDb{ZoneName: apex, committed: newGeneration()}
}

// ReadView is a read-only cursor over one committed generation. It never
// blocks a concurrent writer: once obtained its generation is immutable.
type ReadView struct {
	db  *NameDb
	gen *generation
}

// OpenReadView returns a snapshot of the currently committed state.
func (db *NameDb) OpenReadView() *ReadView {
	db.genMu.Lock()
	gen := db.committed
	db.genMu.Unlock()
	return &ReadView{db: db, gen: gen}
}

func (v *ReadView) LookupName(name Name) (*Domain, bool) {
	d, ok := v.gen.auth[name.String()]
	return d, ok
}

func (v *ReadView) LookupApex() (*Domain, bool) {
	return v.LookupName(v.db.ZoneName)
}

// AllDomains returns owners in strictly ascending canonical order
// (testable property "Canonical order", spec §8).
func (v *ReadView) AllDomains() []*Domain {
	out := make([]*Domain, 0, len(v.gen.authOrder))
	for _, n := range v.gen.authOrder {
		out = append(out, v.gen.auth[n.String()])
	}
	return out
}

func (v *ReadView) LookupDenial(hashName Name) (*Denial, bool) {
	d, ok := v.gen.denials[hashName.String()]
	return d, ok
}

// FirstDenials returns every denial node ordered ascending by hash_name.
func (v *ReadView) FirstDenials() []*Denial {
	out := make([]*Denial, 0, len(v.gen.denialOrder))
	for _, n := range v.gen.denialOrder {
		out = append(out, v.gen.denials[n.String()])
	}
	return out
}

// ReverseDenials returns every denial node ordered descending by
// hash_name.
func (v *ReadView) ReverseDenials() []*Denial {
	fwd := v.FirstDenials()
	out := make([]*Denial, len(fwd))
	for i, d := range fwd {
		out[len(fwd)-1-i] = d
	}
	return out
}

// ParentChain walks from name's immediate parent up to (and including)
// the apex, yielding each Domain found. Names with no Domain in this
// generation (not yet entized) are silently skipped; the orchestrator's
// entize pass is what guarantees every non-apex owner has one.
func (v *ReadView) ParentChain(name Name) []*Domain {
	var out []*Domain
	cur := name
	for !cur.Equal(v.db.ZoneName) {
		cur = cur.Chop()
		if d, ok := v.LookupName(cur); ok {
			out = append(out, d)
		}
		if cur.Equal(v.db.ZoneName) {
			break
		}
		if cur.IsRoot() {
			break
		}
	}
	return out
}

func (v *ReadView) Serial() SerialState { return v.gen.serial }

// WriteView is the single per-zone writer. All structural mutation
// (§4.G apply-diff, entize, denial rebuild) happens through one
// WriteView at a time; spec §4.B forbids more than one live writer per
// zone, enforced here by NameDb.mu staying held for the view's lifetime.
type WriteView struct {
	db        *NameDb
	gen       *generation
	done      bool
	touched   map[string]bool // owner names touched this pass, for incremental denial rebuild
	touchedMu sync.Mutex
}

// OpenWriteView begins a write transaction. It blocks until any prior
// write view on this NameDb has been committed or rolled back -- the
// "single worker task at a time" contract from spec §4.B.
func (db *NameDb) OpenWriteView() *WriteView {
	db.mu.Lock()
	return &WriteView{
		db:      db,
		gen:     db.committed.clone(),
		touched: make(map[string]bool),
	}
}

func (v *WriteView) release() {
	if !v.done {
		v.done = true
		v.db.mu.Unlock()
	}
}

// Commit publishes this view's generation as the NameDb's new committed
// state. Must not be called more than once.
func (v *WriteView) Commit() {
	v.db.genMu.Lock()
	v.db.committed = v.gen
	v.db.genMu.Unlock()
	v.release()
}

// Rollback discards this view's pending changes, leaving the previously
// committed generation untouched. Per spec §4.B this is guaranteed to
// work only until the first external observation of the view; the
// orchestrator never calls it once signing has started.
func (v *WriteView) Rollback() {
	v.release()
}

func (v *WriteView) LookupName(name Name) (*Domain, bool) {
	d, ok := v.gen.auth[name.String()]
	return d, ok
}

func (v *WriteView) LookupApex() (*Domain, bool) {
	return v.LookupName(v.db.ZoneName)
}

func (v *WriteView) AllDomains() []*Domain {
	out := make([]*Domain, 0, len(v.gen.authOrder))
	for _, n := range v.gen.authOrder {
		out = append(out, v.gen.auth[n.String()])
	}
	return out
}

func (v *WriteView) markTouched(name Name) {
	v.touchedMu.Lock()
	v.touched[name.String()] = true
	v.touchedMu.Unlock()
}

// TouchedNames returns the owner names added or removed in this pass
// (AddName/RemoveName); RRset changes on an existing owner are not
// recorded. The orchestrator does not consult it: its denial rebuild
// recomputes the whole chain each run.
func (v *WriteView) TouchedNames() []Name {
	out := make([]Name, 0, len(v.touched))
	for k := range v.touched {
		out = append(out, NewName(k))
	}
	return out
}

// AddName ensures a Domain exists for name, inserting it into the
// canonically ordered owner slice if new. Per spec §4.B's stable-order
// guarantee, the insertion point is found by binary search against the
// already-sorted slice, so existing cursor positions for lower names
// never shift.
func (v *WriteView) AddName(name Name) *Domain {
	if d, ok := v.gen.auth[name.String()]; ok {
		return d
	}
	d := newDomain(name, name.Equal(v.db.ZoneName))
	v.gen.auth[name.String()] = d
	insertSortedName(&v.gen.authOrder, name)
	v.markTouched(name)
	return d
}

// RemoveName deletes a Domain entirely (used when an owner becomes empty
// and has no descendants, per spec §3 lifecycle notes).
func (v *WriteView) RemoveName(name Name) {
	if _, ok := v.gen.auth[name.String()]; !ok {
		return
	}
	delete(v.gen.auth, name.String())
	removeSortedName(&v.gen.authOrder, name)
	v.markTouched(name)
}

// HasDescendant reports whether any owner strictly below name exists in
// this generation (used to decide whether an ENT should be pruned).
func (v *WriteView) HasDescendant(name Name) bool {
	for _, n := range v.gen.authOrder {
		if n.Equal(name) {
			continue
		}
		if n.IsSubdomainOf(name) {
			return true
		}
	}
	return false
}

// getOrCloneRrset returns rrtype's Rrset at owner, creating an empty one
// if absent, and replaces the map entry with a private copy so mutation
// never aliases a prior generation's Rrset (see Domain.clone).
func (v *WriteView) getOrCloneRrset(owner *Domain, rrtype uint16, ttl uint32) *Rrset {
	if rs, ok := owner.RRtypes[rrtype]; ok {
		cp := *rs
		cp.RRs = append([]dns.RR(nil), rs.RRs...)
		cp.RRSIGs = append([]*dns.RRSIG(nil), rs.RRSIGs...)
		owner.RRtypes[rrtype] = &cp
		return &cp
	}
	rs := &Rrset{Name: owner.Name.String(), RRtype: rrtype, Ttl: ttl}
	owner.RRtypes[rrtype] = rs
	return rs
}

func (v *WriteView) SetDenial(d *Denial) {
	v.gen.denials[d.HashName.String()] = d
	if _, exists := findName(v.gen.denialOrder, d.HashName); !exists {
		insertSortedName(&v.gen.denialOrder, d.HashName)
	}
}

func (v *WriteView) RemoveDenial(hashName Name) {
	delete(v.gen.denials, hashName.String())
	removeSortedName(&v.gen.denialOrder, hashName)
}

func (v *WriteView) LookupDenial(hashName Name) (*Denial, bool) {
	d, ok := v.gen.denials[hashName.String()]
	return d, ok
}

func (v *WriteView) FirstDenials() []*Denial {
	out := make([]*Denial, 0, len(v.gen.denialOrder))
	for _, n := range v.gen.denialOrder {
		out = append(out, v.gen.denials[n.String()])
	}
	return out
}

func (v *WriteView) ClearDenials() {
	v.gen.denials = make(map[string]*Denial)
	v.gen.denialOrder = nil
}

func (v *WriteView) Serial() SerialState    { return v.gen.serial }
func (v *WriteView) SetSerial(s SerialState) { v.gen.serial = s }

func insertSortedName(order *[]Name, name Name) {
	i := sort.Search(len(*order), func(i int) bool { return (*order)[i].Compare(name) >= 0 })
	if i < len(*order) && (*order)[i].Equal(name) {
		return
	}
	*order = append(*order, Name{})
	copy((*order)[i+1:], (*order)[i:])
	(*order)[i] = name
}

func removeSortedName(order *[]Name, name Name) {
	i, ok := findName(*order, name)
	if !ok {
		return
	}
	*order = append((*order)[:i], (*order)[i+1:]...)
}

func findName(order []Name, name Name) (int, bool) {
	i := sort.Search(len(order), func(i int) bool { return order[i].Compare(name) >= 0 })
	if i < len(order) && order[i].Equal(name) {
		return i, true
	}
	return i, false
}

// validateInvariant checks the NameDb invariant from spec §3: every
// non-apex domain with an rrset has a parent entry. Used by tests and by
// the orchestrator after entize.
func (v *WriteView) validateInvariant() error {
	for _, n := range v.gen.authOrder {
		d := v.gen.auth[n.String()]
		if d.IsApex {
			continue
		}
		if _, ok := v.gen.auth[d.ParentName.String()]; !ok {
			return fmt.Errorf("namedb: owner %s has no parent entry for %s", d.Name, d.ParentName)
		}
	}
	return nil
}
