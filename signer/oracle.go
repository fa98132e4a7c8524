/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"context"

	"github.com/miekg/dns"
)

// SigningOracle is the core's abstract interface to an HSM-resident
// signer, spec §6. Private key material never crosses this boundary;
// the core only ever sends a locator and a pre-built signing-input byte
// string and gets signature bytes back.
type SigningOracle interface {
	// GetPublicKey returns the DNSKEY RR for locator, used when the key's
	// Key.ResourceRecordOverride is empty (spec §4.D).
	GetPublicKey(ctx context.Context, locator string) (*dns.DNSKEY, error)

	// Sign returns the raw signature bytes for signingInput, computed
	// with the private key named by locator using algorithm. Must honor
	// ctx cancellation (spec §5 "Suspension points").
	Sign(ctx context.Context, locator string, algorithm uint8, signingInput []byte) ([]byte, error)
}
