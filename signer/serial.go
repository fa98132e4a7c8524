/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package signer

// serialGreaterThan implements RFC 1982 serial number arithmetic, the
// same wraparound rule tdns/dnsutils.go anchors its IXFR range checks to
// (it names the constant "year68 = 1 << 31" for exactly this purpose).
func serialGreaterThan(a, b uint32) bool {
	if a == b {
		return false
	}
	return (a > b && a-b < 1<<31) || (a < b && b-a > 1<<31)
}

// serialLessOrEqual reports whether a <= b in serial arithmetic.
func serialLessOrEqual(a, b uint32) bool {
	return a == b || !serialGreaterThan(a, b)
}

// ComputeSerial implements spec §4.G step 5: the SOA serial policy
// engine. inbound is the serial the input adapter produced from the
// zone file; previousOutbound is the last committed outbound serial,
// meaningful only when haveSerial is true (this is not the first run).
func ComputeSerial(sc *SignConf, inbound, previousOutbound uint32, haveSerial bool, clock Clock) (uint32, error) {
	if sc.ForceSerial != nil {
		return *sc.ForceSerial, nil
	}
	switch sc.Soa.SoaSerial {
	case SoaSerialKeep:
		if haveSerial && serialLessOrEqual(inbound, previousOutbound) {
			return 0, ErrSerialRegress
		}
		return inbound, nil

	case SoaSerialCounter:
		base := inbound
		if serialGreaterThan(previousOutbound, base) {
			base = previousOutbound
		}
		return base + 1, nil

	case SoaSerialUnixtime:
		now := clock.NowSeconds()
		candidate := now
		if !serialGreaterThan(candidate, previousOutbound) {
			candidate = previousOutbound + 1
		}
		return candidate, nil

	case SoaSerialDatecounter:
		candidate := clock.TodayYYYYMMDD() * 100
		if !serialGreaterThan(candidate, previousOutbound) {
			candidate = previousOutbound + 1
		}
		return candidate, nil

	default:
		return 0, ErrConfigInvalid
	}
}
