package licensekit

import "fmt"

// LicenseType is the closed set of license tiers an Activation can carry.
// The string form of each value is part of the wire contract: it is fed
// into the canonical signing input (see Activation.signingInput) and must
// match the server byte for byte.
type LicenseType string

const (
	LicenseUndefined    LicenseType = "Undefined"
	LicensePerpetual    LicenseType = "Perpetual"
	LicenseSubscription LicenseType = "Subscription"
	LicenseTrial        LicenseType = "Trial"
	LicenseAlpha        LicenseType = "Alpha"
	LicenseBeta         LicenseType = "Beta"
)

// weight orders license types for the ranking in Activation.IsMoreValuableThan.
// Higher wins.
func (t LicenseType) weight() int {
	switch t {
	case LicensePerpetual:
		return 5
	case LicenseSubscription:
		return 4
	case LicenseTrial:
		return 3
	case LicenseBeta:
		return 2
	case LicenseAlpha:
		return 1
	case LicenseUndefined:
		return 0
	default:
		return 0
	}
}

// parseLicenseType validates that s is one of the known wire strings.
// Unlike the reference implementation this does not throw: an unknown
// string on the wire is surfaced to the caller as a decode error instead
// of a panic, which is the idiomatic Go shape for "the server sent us
// something we don't understand".
func parseLicenseType(s string) (LicenseType, error) {
	switch LicenseType(s) {
	case LicenseUndefined, LicensePerpetual, LicenseSubscription, LicenseTrial, LicenseAlpha, LicenseBeta:
		return LicenseType(s), nil
	default:
		return "", fmt.Errorf("licensekit: unknown license type %q", s)
	}
}
