/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// staticInput replays a fixed RR set as one "add everything" diff, the
// simplest InputAdapter shape for a test fixture.
type staticInput struct {
	rrs []dns.RR
}

func (s *staticInput) ReadDiff(ctx context.Context, zone Name) ([]DiffOp, error) {
	ops := make([]DiffOp, 0, len(s.rrs))
	for _, rr := range s.rrs {
		ops = append(ops, DiffOp{RR: rr})
	}
	return ops, nil
}

// recordingOutput captures every (owner, rrset) pair handed to it, in the
// order received, for assertions about output ordering.
type recordingOutput struct {
	owners []string
	types  []uint16
}

func (r *recordingOutput) WriteRrset(ctx context.Context, owner Name, rs *Rrset) error {
	r.owners = append(r.owners, owner.String())
	r.types = append(r.types, rs.RRtype)
	return nil
}

func (r *recordingOutput) Flush(ctx context.Context) error { return nil }

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q): %v", s, err)
	}
	return rr
}

func baseZoneRRs(t *testing.T) []dns.RR {
	return []dns.RR{
		mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 3600 600 604800 300"),
		mustRR(t, "example.com. 3600 IN NS ns1.example.com."),
		mustRR(t, "ns1.example.com. 3600 IN A 192.0.2.53"),
		mustRR(t, "www.example.com. 3600 IN A 192.0.2.1"),
	}
}

func testOracleAndSignConf(t *testing.T) (*stubOracle, *SignConf) {
	t.Helper()
	ksk := testZsk("ksk1")
	ksk.Ksk, ksk.Zsk = true, false
	zsk := testZsk("zsk1")

	var kl KeyList
	kl.Add(ksk)
	kl.Add(zsk)

	sc := &SignConf{
		SigResignInterval:  24 * time.Hour,
		SigRefreshInterval: 24 * time.Hour,
		SigValidityDefault: 336 * time.Hour,
		SigValidityDenial:  336 * time.Hour,
		SigValidityKeyset:  336 * time.Hour,
		Denial:             DenialConf{NsecType: NsecTypeNSEC3, Nsec3Algo: 1, Nsec3Iterations: 1, Nsec3Salt: "ab"},
		Dnskey:             DnskeySection{DnskeyTtl: 3600, Keys: kl},
		Soa:                SoaSection{SoaTtl: 3600, SoaMin: 300, SoaSerial: SoaSerialCounter},
	}
	return &stubOracle{}, sc
}

func TestZoneRunEmptyZoneWritesApexFirst(t *testing.T) {
	oracle, sc := testOracleAndSignConf(t)
	db := NewNameDb(NewName("example.com."))
	out := &recordingOutput{}

	zr := &ZoneRun{
		Db:     db,
		Oracle: oracle,
		Jitter: DeterministicJitter{},
		Clock:  SystemClock{},
		Stats:  &Stats{},
		Input:  &staticInput{rrs: []dns.RR{mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 3600 600 604800 300")}},
		Output: out,
	}

	if err := zr.Run(context.Background(), sc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.owners) == 0 {
		t.Fatalf("expected at least the apex's SOA/DNSKEY/NSEC3 output")
	}
	if out.owners[0] != "example.com." {
		t.Fatalf("expected the apex to be written first, got %s", out.owners[0])
	}
}

func TestZoneRunSignsAndOrdersOutput(t *testing.T) {
	oracle, sc := testOracleAndSignConf(t)
	db := NewNameDb(NewName("example.com."))
	out := &recordingOutput{}

	zr := &ZoneRun{
		Db:     db,
		Oracle: oracle,
		Jitter: DeterministicJitter{},
		Clock:  SystemClock{},
		Stats:  &Stats{},
		Input:  &staticInput{rrs: baseZoneRRs(t)},
		Output: out,
	}

	if err := zr.Run(context.Background(), sc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < len(out.owners)-1; i++ {
		a, b := NewName(out.owners[i]), NewName(out.owners[i+1])
		if a.Compare(b) > 0 {
			t.Fatalf("expected non-decreasing canonical owner order, got %s after %s", b, a)
		}
	}

	rv := db.OpenReadView()
	apex, ok := rv.LookupApex()
	if !ok {
		t.Fatalf("expected apex domain to exist after commit")
	}
	if len(apex.RRtypes[dns.TypeDNSKEY].RRSIGs) == 0 {
		t.Fatalf("expected the DNSKEY RRset to carry at least one RRSIG")
	}
	www, ok := rv.LookupName(NewName("www.example.com."))
	if !ok {
		t.Fatalf("expected www.example.com. to exist")
	}
	if len(www.RRtypes[dns.TypeA].RRSIGs) == 0 {
		t.Fatalf("expected www's A RRset to carry at least one RRSIG")
	}
	ns1, ok := rv.LookupName(NewName("ns1.example.com."))
	if !ok {
		t.Fatalf("expected ns1.example.com. (the apex NS target) to exist")
	}
	_ = ns1
}

func TestZoneRunDelegationNsNotSigned(t *testing.T) {
	oracle, sc := testOracleAndSignConf(t)
	db := NewNameDb(NewName("example.com."))
	out := &recordingOutput{}

	rrs := []dns.RR{
		mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 3600 600 604800 300"),
		mustRR(t, "example.com. 3600 IN NS ns1.example.com."),
		mustRR(t, "child.example.com. 3600 IN NS ns1.child.example.com."),
		mustRR(t, "child.example.com. 3600 IN DS 12345 13 2 abcdef0123456789abcdef0123456789abcdef0123456789abcdef01234567"),
	}
	zr := &ZoneRun{
		Db: db, Oracle: oracle, Jitter: DeterministicJitter{}, Clock: SystemClock{}, Stats: &Stats{},
		Input: &staticInput{rrs: rrs}, Output: out,
	}
	if err := zr.Run(context.Background(), sc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rv := db.OpenReadView()
	child, ok := rv.LookupName(NewName("child.example.com."))
	if !ok {
		t.Fatalf("expected child.example.com. to exist")
	}
	if len(child.RRtypes[dns.TypeNS].RRSIGs) != 0 {
		t.Fatalf("expected NS at a delegation cut to carry no RRSIG")
	}
	if len(child.RRtypes[dns.TypeDS].RRSIGs) == 0 {
		t.Fatalf("expected DS at a delegation cut to be signed")
	}
}

func TestZoneRunCnameCoexistenceRejected(t *testing.T) {
	oracle, sc := testOracleAndSignConf(t)
	db := NewNameDb(NewName("example.com."))
	out := &recordingOutput{}

	rrs := []dns.RR{
		mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 3600 600 604800 300"),
		mustRR(t, "alias.example.com. 300 IN CNAME target.example.com."),
		mustRR(t, "alias.example.com. 300 IN A 192.0.2.9"),
	}
	zr := &ZoneRun{
		Db: db, Oracle: oracle, Jitter: DeterministicJitter{}, Clock: SystemClock{}, Stats: &Stats{},
		Input: &staticInput{rrs: rrs}, Output: out,
	}
	err := zr.Run(context.Background(), sc, false)
	if !errors.Is(err, ErrCnameCoexistence) {
		t.Fatalf("expected ErrCnameCoexistence, got %v", err)
	}
	if len(out.owners) != 0 {
		t.Fatalf("expected a hard error to abort before any output was written, wrote %d rrsets", len(out.owners))
	}

	rv := db.OpenReadView()
	if _, ok := rv.LookupName(NewName("alias.example.com.")); ok {
		t.Fatalf("expected the rolled-back write view to leave no trace in the committed state")
	}
}

func TestZoneRunSerialKeepRegressIsHardError(t *testing.T) {
	oracle, sc := testOracleAndSignConf(t)
	sc.Soa.SoaSerial = SoaSerialKeep
	db := NewNameDb(NewName("example.com."))

	first := []dns.RR{
		mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 100 3600 600 604800 300"),
	}
	zr := &ZoneRun{
		Db: db, Oracle: oracle, Jitter: DeterministicJitter{}, Clock: SystemClock{}, Stats: &Stats{},
		Input: &staticInput{rrs: first}, Output: &recordingOutput{},
	}
	if err := zr.Run(context.Background(), sc, false); err != nil {
		t.Fatalf("unexpected error on first run: %v", err)
	}
	zr.PrevSignConf = sc

	regressed := []dns.RR{
		mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 50 3600 600 604800 300"),
	}
	zr.Input = &staticInput{rrs: regressed}
	err := zr.Run(context.Background(), sc, false)
	if !errors.Is(err, ErrSerialRegress) {
		t.Fatalf("expected ErrSerialRegress, got %v", err)
	}

	rv := db.OpenReadView()
	apex, _ := rv.LookupApex()
	soa := apex.RRtypes[dns.TypeSOA].RRs[0].(*dns.SOA)
	if soa.Serial != 100 {
		t.Fatalf("expected the previously committed serial 100 to survive a rolled-back run, got %d", soa.Serial)
	}
}
