/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package oracle is a demo, sqlite-backed implementation of
// signer.SigningOracle: a stand-in for the HSM or remote key-management
// service a production deployment would talk to. Grounded on
// tdns/keystore.go's Sig0KeyMgmt (database/sql against a sqlite3-backed
// key table, one row per key) and tdns/db.go's connection setup, adapted
// from SIG(0) transaction keys to DNSSEC zone-signing keys.
package oracle

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"database/sql"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"

	_ "github.com/mattn/go-sqlite3"
	"github.com/miekg/dns"
)

const schema = `
CREATE TABLE IF NOT EXISTS SigningKeys (
	locator    TEXT PRIMARY KEY,
	algorithm  INTEGER NOT NULL,
	flags      INTEGER NOT NULL,
	owner      TEXT NOT NULL,
	privatekey TEXT NOT NULL,
	publickey  TEXT NOT NULL
)`

// Store is a sqlite-backed SigningOracle. Only algorithm 13
// (ECDSAP256SHA256) is supported -- the demo's point is to exercise
// database/sql + mattn/go-sqlite3 as the oracle's storage, not to be a
// general-purpose HSM.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite3 keystore at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("oracle: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("oracle: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// GenerateKey creates a fresh ECDSAP256SHA256 keypair and stores it under
// locator (replacing any key already stored there), for use in a KeyList
// entry. It returns only an error.
func (s *Store) GenerateKey(ctx context.Context, locator, owner string, flags uint16) error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("oracle: generate key: %w", err)
	}
	privDer, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("oracle: marshal private key: %w", err)
	}
	privPem := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDer})

	pub := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	// DNSKEY public key field for ECDSA is the raw concatenated X||Y,
	// without the 0x04 uncompressed-point prefix elliptic.Marshal adds.
	pubRaw := pub[1:]

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO SigningKeys (locator, algorithm, flags, owner, privatekey, publickey) VALUES (?, ?, ?, ?, ?, ?)`,
		locator, dns.ECDSAP256SHA256, flags, owner, string(privPem), string(pubRaw))
	if err != nil {
		return fmt.Errorf("oracle: insert key %s: %w", locator, err)
	}
	return nil
}

// GetPublicKey implements signer.SigningOracle.
func (s *Store) GetPublicKey(ctx context.Context, locator string) (*dns.DNSKEY, error) {
	row := s.db.QueryRowContext(ctx, `SELECT algorithm, flags, owner, publickey FROM SigningKeys WHERE locator = ?`, locator)
	var algo int
	var flags int
	var owner, pubRaw string
	if err := row.Scan(&algo, &flags, &owner, &pubRaw); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("oracle: no such key %q", locator)
		}
		return nil, fmt.Errorf("oracle: get public key %s: %w", locator, err)
	}
	return &dns.DNSKEY{
		Hdr:       dns.RR_Header{Name: dns.Fqdn(owner), Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET},
		Flags:     uint16(flags),
		Protocol:  3,
		Algorithm: uint8(algo),
		PublicKey: toBase64(pubRaw),
	}, nil
}

// Sign implements signer.SigningOracle: it loads locator's private key
// and signs signingInput, returning the raw (r||s) ECDSA signature bytes
// RFC 6605 §4 requires for DNSSEC ECDSA signatures.
func (s *Store) Sign(ctx context.Context, locator string, algorithm uint8, signingInput []byte) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT algorithm, privatekey FROM SigningKeys WHERE locator = ?`, locator)
	var algo int
	var privPem string
	if err := row.Scan(&algo, &privPem); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("oracle: no such key %q", locator)
		}
		return nil, fmt.Errorf("oracle: load key %s: %w", locator, err)
	}
	if uint8(algo) != algorithm {
		return nil, fmt.Errorf("oracle: key %s is algorithm %d, not %d", locator, algo, algorithm)
	}

	block, _ := pem.Decode([]byte(privPem))
	if block == nil {
		return nil, fmt.Errorf("oracle: key %s: invalid PEM", locator)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("oracle: key %s: parse private key: %w", locator, err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("oracle: key %s is not ECDSA", locator)
	}

	digest := sha256.Sum256(signingInput)
	r, sv, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("oracle: sign with key %s: %w", locator, err)
	}
	return rfc6605RawSignature(r, sv, priv.Curve.Params().BitSize), nil
}

// rfc6605RawSignature encodes (r, s) as the fixed-width big-endian
// concatenation RFC 6605 §4 mandates for DNSSEC ECDSA signatures (no
// ASN.1 DER wrapping, unlike crypto/x509's usual signature encoding).
func rfc6605RawSignature(r, s *big.Int, bitSize int) []byte {
	size := (bitSize + 7) / 8
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out
}

func toBase64(raw string) string {
	return base64.StdEncoding.EncodeToString([]byte(raw))
}
