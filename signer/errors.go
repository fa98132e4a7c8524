/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import "errors"

// Error kinds per the zone-signing error design. Hard errors abort the
// zone run and leave the previously committed state untouched; soft
// errors are counted (see Stats) and the run continues.
var (
	ErrConfigInvalid     = errors.New("signconf: invalid configuration")
	ErrOutOfZone         = errors.New("namedb: rr out of zone")
	ErrDuplicate         = errors.New("namedb: duplicate rr")
	ErrCnameCoexistence  = errors.New("namedb: cname coexistence violation")
	ErrSerialRegress     = errors.New("serial: keep strategy cannot proceed")
	ErrHashCollision     = errors.New("nsec3: hash collision")
	ErrOracleUnavailable = errors.New("oracle: unavailable")
	ErrNoSuchKey         = errors.New("oracle: no such key")
	ErrSignatureRejected = errors.New("oracle: signature rejected")
	ErrCancelled         = errors.New("zone run cancelled")
)

// hardError reports whether err should abort the zone run rather than be
// counted as a soft error and skipped.
func hardError(err error) bool {
	switch {
	case errors.Is(err, ErrCnameCoexistence),
		errors.Is(err, ErrSerialRegress),
		errors.Is(err, ErrHashCollision),
		errors.Is(err, ErrOracleUnavailable),
		errors.Is(err, ErrNoSuchKey),
		errors.Is(err, ErrSignatureRejected),
		errors.Is(err, ErrCancelled),
		errors.Is(err, ErrConfigInvalid):
		return true
	default:
		return false
	}
}
