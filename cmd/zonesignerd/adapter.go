/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/miekg/dns"

	"github.com/tigermoth/zonesigner/signer"
)

// TextFileInputAdapter is a minimal demo signer.InputAdapter: it reads a
// whole master file with dns.ZoneParser and turns it into one big
// "add everything" diff. $INCLUDE/$ORIGIN resolution is handled entirely
// by dns.ZoneParser, matching spec §6's "the adapter, not the core"
// requirement. Grounded on tdns/zone_parser.go's use of dns.ZoneParser
// for exactly this purpose.
type TextFileInputAdapter struct {
	Path string
}

func (a *TextFileInputAdapter) ReadDiff(ctx context.Context, zone signer.Name) ([]signer.DiffOp, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("TextFileInputAdapter: %w", err)
	}
	defer f.Close()

	zp := dns.NewZoneParser(f, zone.String(), a.Path)
	var ops []signer.DiffOp
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		ops = append(ops, signer.DiffOp{RR: rr})
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("TextFileInputAdapter: parse %s: %w", a.Path, err)
	}
	return ops, nil
}

// TextWriterOutputAdapter prints the canonical (owner, rrset) sequence to
// an io.Writer in ordinary zone-file text, one RR per line, signatures
// following their covered set -- a demo serializer, not the production
// zone-file writer spec §1 keeps out of scope.
type TextWriterOutputAdapter struct {
	w interface {
		WriteString(string) (int, error)
	}
}

func NewTextWriterOutputAdapter(w interface {
	WriteString(string) (int, error)
}) *TextWriterOutputAdapter {
	return &TextWriterOutputAdapter{w: w}
}

func (a *TextWriterOutputAdapter) WriteRrset(ctx context.Context, owner signer.Name, rs *signer.Rrset) error {
	var b strings.Builder
	for _, rr := range rs.RRs {
		b.WriteString(rr.String())
		b.WriteByte('\n')
	}
	for _, sig := range rs.RRSIGs {
		b.WriteString(sig.String())
		b.WriteByte('\n')
	}
	_, err := a.w.WriteString(b.String())
	return err
}

func (a *TextWriterOutputAdapter) Flush(ctx context.Context) error {
	return nil
}
