/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// NsecType selects the denial-of-existence mechanism, spec §4.C.
type NsecType uint8

const (
	NsecTypeNSEC NsecType = iota + 1
	NsecTypeNSEC3
)

// SoaSerialPolicy selects the SOA serial strategy, spec §4.C / §4.G step 5.
type SoaSerialPolicy string

const (
	SoaSerialKeep        SoaSerialPolicy = "keep"
	SoaSerialCounter     SoaSerialPolicy = "counter"
	SoaSerialUnixtime    SoaSerialPolicy = "unixtime"
	SoaSerialDatecounter SoaSerialPolicy = "datecounter"
)

// DenialConf is the §4.C denial section.
type DenialConf struct {
	NsecType       NsecType `validate:"required"`
	Nsec3Optout    bool
	Nsec3Algo      uint8  `validate:"required_if=NsecType 2,nsec3algosha1"`
	Nsec3Iterations uint16
	Nsec3Salt      string
	Nsec3ParamTtl  *uint32
}

// DnskeySection is the §4.C DNSKEY section.
type DnskeySection struct {
	DnskeyTtl               uint32 `validate:"required"`
	DnskeySignatureRRs      []string // literal RR text, optional
	Keys                    KeyList
}

// SoaSection is the §4.C SOA section.
type SoaSection struct {
	SoaTtl    uint32          `validate:"required"`
	SoaMin    uint32          `validate:"required"`
	SoaSerial SoaSerialPolicy `validate:"required,oneof=keep counter unixtime datecounter"`
}

// SignConf is the immutable, validated parameter bundle from spec §4.C.
// Construct it with DecodeSignConf or as a literal checked by Validate; once Validate succeeds
// treat every field as read-only -- nothing in this package mutates a
// SignConf after validation.
type SignConf struct {
	SigResignInterval  time.Duration `validate:"required"`
	SigRefreshInterval time.Duration `validate:"required"`
	SigValidityDefault time.Duration `validate:"required"`
	SigValidityDenial  time.Duration `validate:"required"`
	SigValidityKeyset  time.Duration // optional; falls through to SigValidityDefault, see spec §9 open question
	SigJitter          time.Duration
	SigInceptionOffset time.Duration

	Denial DenialConf
	Dnskey DnskeySection
	Soa    SoaSection

	MaxZoneTtl  *uint32
	Passthrough bool

	ForceSerial *uint32 // external override, spec §4.G step 5
}

// EffectiveKeysetValidity implements the spec §9 open-question
// resolution: when SigValidityKeyset is unset (zero), DNSKEY RRsets get
// SigValidityDefault instead.
func (sc *SignConf) EffectiveKeysetValidity() time.Duration {
	if sc.SigValidityKeyset > 0 {
		return sc.SigValidityKeyset
	}
	return sc.SigValidityDefault
}

var signConfValidator = newSignConfValidator()

func newSignConfValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nsec3algosha1", validateNsec3AlgoSHA1)
	return v
}

// validateNsec3AlgoSHA1 enforces "nsec3_algo = 1 (SHA-1) if nsec_type =
// NSEC3" the way tdns/config_validate.go registers a custom "certkey"
// validator: the stock validator tag set has no "must equal 1 unless
// sibling field differs" rule, so we add one.
func validateNsec3AlgoSHA1(fl validator.FieldLevel) bool {
	conf, ok := fl.Parent().Interface().(DenialConf)
	if !ok {
		return true
	}
	if conf.NsecType != NsecTypeNSEC3 {
		return true
	}
	return conf.Nsec3Algo == 1
}

// Validate checks SignConf against spec §4.C and returns ErrConfigInvalid
// (wrapped with details) on failure.
func (sc *SignConf) Validate() error {
	if err := signConfValidator.Struct(sc); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if sc.Denial.NsecType != NsecTypeNSEC && sc.Denial.NsecType != NsecTypeNSEC3 {
		return fmt.Errorf("%w: nsec_type must be NSEC or NSEC3", ErrConfigInvalid)
	}
	if sc.Denial.NsecType == NsecTypeNSEC3 && sc.Denial.Nsec3Algo != 1 {
		return fmt.Errorf("%w: nsec3_algo must be 1 (SHA-1)", ErrConfigInvalid)
	}
	switch sc.Soa.SoaSerial {
	case SoaSerialKeep, SoaSerialCounter, SoaSerialUnixtime, SoaSerialDatecounter:
	default:
		return fmt.Errorf("%w: soa_serial %q is not one of keep/counter/unixtime/datecounter", ErrConfigInvalid, sc.Soa.SoaSerial)
	}
	if len(sc.Dnskey.Keys.Keys) == 0 && !sc.Passthrough {
		return fmt.Errorf("%w: keys must be non-empty unless passthrough", ErrConfigInvalid)
	}
	if !sc.Passthrough {
		hasKSK := false
		for _, k := range sc.Dnskey.Keys.Keys {
			if k.Ksk {
				hasKSK = true
				break
			}
		}
		if !hasKSK {
			return fmt.Errorf("%w: at least one KSK key is required unless passthrough", ErrConfigInvalid)
		}
	}
	return nil
}

// DecodeSignConf decodes an already-parsed, schema-checked configuration
// object (spec §6: "the core requires a schema-checked object whose
// shape matches §4.C") into a validated SignConf. Grounded on
// tdns/parseconfig.go's mapstructure.NewDecoder use for the outer config;
// the on-disk XML/RNG parsing that produces the map is out of scope.
func DecodeSignConf(raw map[string]interface{}) (*SignConf, error) {
	var sc SignConf
	dc := &mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &sc,
	}
	dec, err := mapstructure.NewDecoder(dc)
	if err != nil {
		return nil, fmt.Errorf("DecodeSignConf: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrConfigInvalid, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// DenialChangeClass is the result of compare_denial, spec §4.C.
type DenialChangeClass uint8

const (
	DenialNoChange DenialChangeClass = iota
	DenialRebuildChain
	DenialResignOnly
)

// CompareDenial classifies the impact of moving from old to new, per
// spec §4.C's change classifier.
func CompareDenial(old, new *SignConf) DenialChangeClass {
	if old == nil || new == nil {
		return DenialRebuildChain
	}
	od, nd := old.Denial, new.Denial
	structural := od.NsecType != nd.NsecType ||
		od.Nsec3Salt != nd.Nsec3Salt ||
		od.Nsec3Algo != nd.Nsec3Algo ||
		od.Nsec3Iterations != nd.Nsec3Iterations ||
		od.Nsec3Optout != nd.Nsec3Optout ||
		old.Soa.SoaMin != new.Soa.SoaMin
	if structural {
		return DenialRebuildChain
	}
	ttlChanged := (od.Nsec3ParamTtl == nil) != (nd.Nsec3ParamTtl == nil)
	if !ttlChanged && od.Nsec3ParamTtl != nil && nd.Nsec3ParamTtl != nil {
		ttlChanged = *od.Nsec3ParamTtl != *nd.Nsec3ParamTtl
	}
	if ttlChanged {
		return DenialResignOnly
	}
	return DenialNoChange
}
