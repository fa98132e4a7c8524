/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/miekg/dns"
)

// maxSigningWorkers bounds the §5 signing worker pool: a small, fixed fan
// out, not one goroutine per RRset. Grounded on the channel fan-out/fan-in
// idiom tdns/hsyncengine.go and tdns/refreshengine.go use for their
// engines, sized here instead of left unbounded.
const maxSigningWorkers = 8

// ZoneRun executes spec §4.G's seven-step pipeline once for one zone.
// Grounded on tdns/sign.go's SignZone (the per-owner MaybeSignRRset loop
// and the BumpSerial-at-the-end shape) and tdns/zone_utils.go's
// BumpSerial, generalized into the spec's explicit
// apply-diff/entize/denial/sign/commit sequence.
type ZoneRun struct {
	Db     *NameDb
	Oracle SigningOracle
	Jitter JitterSource
	Clock  Clock
	Stats  *Stats
	Input  InputAdapter
	Output OutputAdapter

	// PrevSignConf is the SignConf committed on the previous run, used by
	// compare_denial (spec §4.C/§4.G step 3). Leave nil for a zone's
	// first run -- compare_denial treats nil as rebuild_nsec_chain.
	PrevSignConf *SignConf
}

// Run executes one pass of spec §4.G for sc. On any hard error the write
// view is rolled back and the previously committed state is left
// untouched; force replays every RRSIG regardless of remaining lifetime.
func (zr *ZoneRun) Run(ctx context.Context, sc *SignConf, force bool) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	v := zr.Db.OpenWriteView()
	committed := false
	defer func() {
		if !committed {
			v.Rollback()
		}
	}()

	apex := zr.Db.ZoneName
	apexDomain := v.AddName(apex)
	apexDomain.IsApex = true

	ops, err := zr.Input.ReadDiff(ctx, apex)
	if err != nil {
		return fmt.Errorf("zonerun: read diff: %w", err)
	}

	var inboundSerial uint32
	if err := zr.applyDiff(ctx, v, apex, ops, &inboundSerial); err != nil {
		return err
	}

	entize(v, apex)
	if err := v.validateInvariant(); err != nil {
		return err
	}

	if !sc.Passthrough {
		// compare_denial's classification (rebuild vs resign-only vs
		// no-change) decides whether the source wipes the chain outright;
		// here rebuildDenialChain always recomputes deterministically and
		// diffs against the prior chain instead (see its doc comment), so
		// the class itself is only informational.
		_ = CompareDenial(zr.PrevSignConf, sc)
		if err := rebuildDenialChain(v, sc, apex); err != nil {
			return err
		}
	} else {
		v.ClearDenials()
	}

	serialState := v.Serial()
	newOutbound, err := ComputeSerial(sc, inboundSerial, serialState.Outbound, serialState.HaveSerial, zr.Clock)
	if err != nil {
		return err
	}
	v.SetSerial(SerialState{
		Inbound:    inboundSerial,
		Internal:   newOutbound,
		Outbound:   newOutbound,
		HaveSerial: true,
		Forced:     sc.ForceSerial,
	})
	if err := stampSoaSerial(v, apex, sc, newOutbound); err != nil {
		return err
	}

	if !sc.Passthrough {
		if err := publishDnskeys(v, sc, apex); err != nil {
			return err
		}
		if err := zr.signZone(ctx, v, sc, apex, force); err != nil {
			return err
		}
	}

	v.Commit()
	committed = true

	return zr.serialize(ctx, v)
}

// applyDiff implements spec §4.G step 1: ingest the input adapter's
// add/remove stream into the write view, dropping core-owned types
// silently and rejecting out-of-zone RRs as a soft error.
func (zr *ZoneRun) applyDiff(ctx context.Context, v *WriteView, apex Name, ops []DiffOp, inboundSerial *uint32) error {
	for _, op := range ops {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if isDroppedAtBoundary(op.RR.Header().Rrtype) {
			continue
		}

		owner := NewName(op.RR.Header().Name)
		if !owner.IsSubdomainOf(apex) {
			zr.Stats.incOutOfZone()
			continue
		}

		if soa, ok := op.RR.(*dns.SOA); ok && !op.Remove && owner.Equal(apex) {
			*inboundSerial = soa.Serial
		}

		if err := applyRR(v, owner, op); err != nil {
			if hardError(err) {
				return err
			}
			zr.Stats.incDuplicate()
		}
	}
	return nil
}

// applyRR routes one add/remove op into owner's write view, enforcing the
// out-of-zone boundary (already checked by the caller) and the CNAME
// exclusivity invariant from spec §3.
func applyRR(v *WriteView, owner Name, op DiffOp) error {
	d := v.AddName(owner)
	if !d.IsApex {
		d.ParentName = owner.Chop()
	}

	rrtype := op.RR.Header().Rrtype

	if op.Remove {
		rs, ok := d.RRtypes[rrtype]
		if !ok {
			return nil
		}
		cp := v.getOrCloneRrset(d, rrtype, rs.Ttl)
		cp.RemoveRR(op.RR)
		if cp.Empty() {
			delete(d.RRtypes, rrtype)
			if !d.IsApex && d.IsEmptyNonTerminal() && !v.HasDescendant(owner) {
				v.RemoveName(owner)
			}
		}
		return nil
	}

	if wouldViolateCnameExclusivity(d, rrtype) {
		return ErrCnameCoexistence
	}

	rs := v.getOrCloneRrset(d, rrtype, op.RR.Header().Ttl)
	if !rs.AddRR(op.RR) {
		return ErrDuplicate
	}
	return nil
}

// wouldViolateCnameExclusivity implements spec §3's "at most one CNAME, no
// other type except NSEC/NSEC3/RRSIG" rule for adding rrtype to d.
func wouldViolateCnameExclusivity(d *Domain, rrtype uint16) bool {
	if rrtype == dns.TypeCNAME {
		for t, rs := range d.RRtypes {
			if rs.Empty() || t == dns.TypeCNAME {
				continue
			}
			if !typeCoexistsWithCname(t) {
				return true
			}
		}
		return false
	}
	if typeCoexistsWithCname(rrtype) {
		return false
	}
	return d.HasCname()
}

// entize implements spec §4.G step 2: for every non-apex owner lacking a
// parent in the db, synthesize empty parent domains up to the apex.
// Grounded on the "walk owner name up to apex, create an empty OwnerData
// if missing" idiom tdns/structs.go's GetOwner MapZone branch already
// uses for a single lookup, generalized here into a full upward walk.
func entize(v *WriteView, apex Name) {
	for _, owner := range v.AllDomains() {
		cur := owner.Name
		for !cur.Equal(apex) && cur.NumLabels() > apex.NumLabels() {
			parent := cur.Chop()
			if _, ok := v.LookupName(parent); !ok {
				pd := v.AddName(parent)
				if !pd.IsApex {
					pd.ParentName = parent.Chop()
				}
			}
			cur = parent
		}
	}
}

// rebuildDenialChain implements spec §4.E/§4.G steps 3-4: recompute the
// denial chain for the configured mode, then diff the result against the
// chain's prior content so that unaffected nodes keep their old RRSIGs and
// are not marked changed -- the "only nodes touched... are re-examined"
// rule from spec §4.G step 3, realized as a deterministic full recompute
// plus content diff rather than true incremental chain splicing (see
// DESIGN.md).
func rebuildDenialChain(v *WriteView, sc *SignConf, apex Name) error {
	old := v.gen.denials
	cuts := delegationCuts(v)
	owners := make([]*Domain, 0, len(v.gen.authOrder))
	for _, d := range v.AllDomains() {
		// Names strictly below a delegation cut are glue or child-zone
		// data and get no denial node; the cut itself does.
		if !isOccluded(d.Name, dns.TypeDS, cuts) {
			owners = append(owners, d)
		}
	}

	var err error
	if sc.Denial.NsecType == NsecTypeNSEC3 {
		err = buildNsec3Chain(v, sc, apex, owners)
	} else {
		err = buildNsecChain(v, sc, owners)
	}
	if err != nil {
		return err
	}

	for _, d := range v.gen.denials {
		prev, existed := old[d.HashName.String()]
		if !existed || !sameDenialContent(prev, d) {
			d.Changed = true
			d.Rrset.Changed = true
			continue
		}
		d.Changed = false
		d.Rrset.Changed = false
		d.Rrset.RRSIGs = prev.Rrset.RRSIGs
	}
	return nil
}

func sameDenialContent(a, b *Denial) bool {
	if len(a.Rrset.RRs) != len(b.Rrset.RRs) || a.Rrset.Ttl != b.Rrset.Ttl {
		return false
	}
	for i := range a.Rrset.RRs {
		if !dns.IsDuplicate(a.Rrset.RRs[i], b.Rrset.RRs[i]) {
			return false
		}
	}
	return true
}

// stampSoaSerial implements spec §4.G step 5's write-back: the computed
// outbound serial replaces the apex SOA's Serial field. A successful run
// always advances the serial (spec §8 "Serial monotonicity"), so the SOA
// RRset is unconditionally marked changed.
func stampSoaSerial(v *WriteView, apex Name, sc *SignConf, serial uint32) error {
	apexDomain, ok := v.LookupName(apex)
	if !ok {
		return fmt.Errorf("zonerun: apex %s missing from namedb", apex)
	}
	rs, ok := apexDomain.RRtypes[dns.TypeSOA]
	if !ok || rs.Empty() {
		return fmt.Errorf("%w: zone %s has no SOA record", ErrConfigInvalid, apex)
	}

	cp := v.getOrCloneRrset(apexDomain, dns.TypeSOA, sc.Soa.SoaTtl)
	soa, ok := cp.RRs[0].(*dns.SOA)
	if !ok {
		return fmt.Errorf("%w: zone %s SOA RRset holds a non-SOA record", ErrConfigInvalid, apex)
	}
	stamped := *soa
	stamped.Hdr.Ttl = sc.Soa.SoaTtl
	stamped.Minttl = sc.Soa.SoaMin
	stamped.Serial = serial
	cp.RRs[0] = &stamped
	cp.Ttl = sc.Soa.SoaTtl
	cp.Changed = true
	return nil
}

// publishDnskeys implements spec §4.D's publication rule: every key with
// Publish set contributes a DNSKEY RR to the apex RRset. When
// dnskey_signature_rrs is supplied, those literal RRSIGs are taken
// verbatim instead of asking the oracle to sign the DNSKEY RRset -- the
// escape hatch for an air-gapped KSK that signs offline.
func publishDnskeys(v *WriteView, sc *SignConf, apex Name) error {
	apexDomain, ok := v.LookupName(apex)
	if !ok {
		return fmt.Errorf("zonerun: apex %s missing from namedb", apex)
	}
	keys := sc.Dnskey.Keys.Published()
	if len(keys) == 0 {
		return fmt.Errorf("%w: no keys flagged for DNSKEY publication", ErrConfigInvalid)
	}

	rrs := make([]dns.RR, 0, len(keys))
	for _, k := range keys {
		dnskey, err := k.dnskeyRR(sc.Dnskey.DnskeyTtl, apex)
		if err != nil {
			return err
		}
		rrs = append(rrs, dnskey)
	}
	sortCanonicalRRs(rrs)

	cp := v.getOrCloneRrset(apexDomain, dns.TypeDNSKEY, sc.Dnskey.DnskeyTtl)
	changed := len(cp.RRs) != len(rrs)
	if !changed {
		for i := range rrs {
			if !dns.IsDuplicate(cp.RRs[i], rrs[i]) {
				changed = true
				break
			}
		}
	}
	cp.RRs = rrs
	cp.Ttl = sc.Dnskey.DnskeyTtl

	if len(sc.Dnskey.DnskeySignatureRRs) > 0 {
		sigs := make([]*dns.RRSIG, 0, len(sc.Dnskey.DnskeySignatureRRs))
		for _, text := range sc.Dnskey.DnskeySignatureRRs {
			rr, err := dns.NewRR(text)
			if err != nil {
				return fmt.Errorf("%w: invalid dnskey_signature_rrs entry: %v", ErrConfigInvalid, err)
			}
			rrsig, ok := rr.(*dns.RRSIG)
			if !ok {
				return fmt.Errorf("%w: dnskey_signature_rrs entry is not an RRSIG", ErrConfigInvalid)
			}
			sigs = append(sigs, rrsig)
		}
		cp.RRSIGs = sigs
		cp.Changed = false
		return nil
	}

	if changed {
		cp.Changed = true
	}
	return nil
}

// delegationCuts returns the set of non-apex owner names that carry an NS
// RRset: the glossary's delegation points, below which RRsets are glue or
// child-zone data rather than "authoritative" for this zone.
func delegationCuts(v *WriteView) map[string]bool {
	cuts := make(map[string]bool)
	for _, d := range v.AllDomains() {
		if !d.IsApex && d.HasNS() {
			cuts[d.Name.String()] = true
		}
	}
	return cuts
}

// isOccluded reports whether rrtype at owner is not authoritative per the
// glossary: NS (and everything else but DS) at a delegation cut, or
// anything strictly below one.
func isOccluded(owner Name, rrtype uint16, cuts map[string]bool) bool {
	if cuts[owner.String()] {
		return rrtype != dns.TypeDS
	}
	for cut := range cuts {
		if owner.IsSubdomainOf(NewName(cut)) && owner.String() != cut {
			return true
		}
	}
	return false
}

// signTask is one unit of §4.F signing work handed to the worker pool.
type signTask struct {
	owner Name
	rs    *Rrset
}

// signZone implements spec §4.G step 6: gather every RRset whose
// needs_signing flag (Rrset.Changed) is set -- authoritative RRsets,
// denial RRsets, and the apex DNSKEY RRset -- and fan them out to a
// bounded pool of signing workers.
func (zr *ZoneRun) signZone(ctx context.Context, v *WriteView, sc *SignConf, apex Name, force bool) error {
	var tasks []signTask

	if apexDomain, ok := v.LookupApex(); ok {
		if rs, ok := apexDomain.RRtypes[dns.TypeDNSKEY]; ok && rs.Changed {
			tasks = append(tasks, signTask{owner: apex, rs: rs})
		}
	}

	cuts := delegationCuts(v)
	for _, d := range v.AllDomains() {
		types := make([]int, 0, len(d.RRtypes))
		for t := range d.RRtypes {
			types = append(types, int(t))
		}
		sort.Ints(types)
		for _, ti := range types {
			t := uint16(ti)
			if t == dns.TypeRRSIG || t == dns.TypeDNSKEY || t == dns.TypeSOA {
				continue // DNSKEY handled above, apex SOA right after this loop; RRSIG is never signed
			}
			rs := d.RRtypes[t]
			if rs.Empty() || !rs.Changed {
				continue
			}
			if isOccluded(d.Name, t, cuts) {
				continue
			}
			tasks = append(tasks, signTask{owner: d.Name, rs: v.getOrCloneRrset(d, t, rs.Ttl)})
		}
		if rs, ok := d.RRtypes[dns.TypeSOA]; ok && !rs.Empty() && rs.Changed && d.IsApex {
			tasks = append(tasks, signTask{owner: d.Name, rs: rs})
		}
	}

	for _, dn := range v.FirstDenials() {
		if dn.Changed && dn.Rrset != nil && !dn.Rrset.Empty() {
			tasks = append(tasks, signTask{owner: dn.HashName, rs: dn.Rrset})
		}
	}

	return zr.runSigningPool(ctx, sc, apex, tasks, force)
}

// runSigningPool fans tasks out to a bounded worker pool, per spec §5.
// Grounded on the channel fan-out/fan-in idiom used throughout
// tdns/hsyncengine.go and tdns/refreshengine.go's channel-based engines.
func (zr *ZoneRun) runSigningPool(ctx context.Context, sc *SignConf, apex Name, tasks []signTask, force bool) error {
	if len(tasks) == 0 {
		return nil
	}
	workers := maxSigningWorkers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	taskCh := make(chan signTask)
	errCh := make(chan error, len(tasks))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				if err := SignRrset(ctx, zr.Oracle, zr.Jitter, zr.Clock, sc, apex, zr.Stats, t.rs, force); err != nil {
					errCh <- err
				}
			}
		}()
	}

feed:
	for _, t := range tasks {
		select {
		case taskCh <- t:
		case <-ctx.Done():
			break feed
		}
	}
	close(taskCh)
	wg.Wait()
	close(errCh)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// serialEntry is one row of the §4.G step 7 output sequence: either an
// authoritative owner, a denial node (NSEC3 only -- NSEC shares its
// owner's entry), or both when they coincide.
type serialEntry struct {
	name   Name
	domain *Domain
	denial *Denial
}

// serialize implements spec §4.G step 7 and §6's output-adapter contract:
// canonical owner order (apex first falls out of Name.Compare itself,
// since the apex has strictly fewer labels than any name below it), SOA
// then CNAME-exclusive-or-ascending-type then denial per owner.
func (zr *ZoneRun) serialize(ctx context.Context, v *WriteView) error {
	entries := make(map[string]*serialEntry)
	var order []Name

	get := func(n Name) *serialEntry {
		key := n.String()
		if e, ok := entries[key]; ok {
			return e
		}
		e := &serialEntry{name: n}
		entries[key] = e
		order = append(order, n)
		return e
	}

	for _, d := range v.AllDomains() {
		get(d.Name).domain = d
	}
	for _, dn := range v.FirstDenials() {
		get(dn.HashName).denial = dn
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Compare(order[j]) < 0 })

	for _, n := range order {
		e := entries[n.String()]
		if err := writeEntry(ctx, zr.Output, e); err != nil {
			return err
		}
	}
	return zr.Output.Flush(ctx)
}

func writeEntry(ctx context.Context, out OutputAdapter, e *serialEntry) error {
	if d := e.domain; d != nil {
		if rs, ok := d.RRtypes[dns.TypeSOA]; ok && !rs.Empty() {
			if err := out.WriteRrset(ctx, e.name, rs); err != nil {
				return err
			}
		}
		if rs, ok := d.RRtypes[dns.TypeCNAME]; ok && !rs.Empty() {
			if err := out.WriteRrset(ctx, e.name, rs); err != nil {
				return err
			}
		} else {
			types := make([]int, 0, len(d.RRtypes))
			for t := range d.RRtypes {
				if t == dns.TypeSOA || t == dns.TypeRRSIG {
					continue
				}
				types = append(types, int(t))
			}
			sort.Ints(types)
			for _, ti := range types {
				rs := d.RRtypes[uint16(ti)]
				if rs.Empty() {
					continue
				}
				if err := out.WriteRrset(ctx, e.name, rs); err != nil {
					return err
				}
			}
		}
	}
	if dn := e.denial; dn != nil && dn.Rrset != nil && !dn.Rrset.Empty() {
		if err := out.WriteRrset(ctx, e.name, dn.Rrset); err != nil {
			return err
		}
	}
	return nil
}
