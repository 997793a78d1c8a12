package licensekit

import (
	"encoding/binary"
	"time"

	"licensekit/internal/cryptoadapter"
)

// Activation is a server-signed record proving a machine may run a product
// for a bounded, or unbounded, period. Its zero value is a deliberately
// invalid activation: empty hash, empty product/machine UID, no expiry,
// LicenseUndefined, empty signature.
type Activation struct {
	Hash             []byte
	ProductUid       string
	MachineUid       []byte
	ExpiresAt        *time.Time
	LicenseExpiresAt *time.Time
	LicenseType      LicenseType
	Signature        []byte

	// status is transient: it is the latched result of the most recent
	// Validate call and is never persisted.
	status Status
}

// Status returns the latched result of the most recent Validate call, or
// StatusUndefined if Validate has never been called on this value.
func (a *Activation) Status() Status {
	if a.status == "" {
		return StatusUndefined
	}
	return a.status
}

// signingInput builds the exact byte sequence fed to the signature
// verifier. Order is fixed and must match the server: hash, product UID,
// machine UID, then — only if present — expiresAt and licenseExpiresAt as
// big-endian millisecond int64s, then the license type's textual name.
// Absent optional timestamps contribute nothing: no sentinel, no zero
// placeholder.
func (a *Activation) signingInput() []byte {
	buf := make([]byte, 0, len(a.Hash)+len(a.ProductUid)+len(a.MachineUid)+8+8+16)
	buf = append(buf, a.Hash...)
	buf = append(buf, []byte(a.ProductUid)...)
	buf = append(buf, a.MachineUid...)

	if a.ExpiresAt != nil {
		buf = appendBigEndianMillis(buf, *a.ExpiresAt)
	}
	if a.LicenseExpiresAt != nil {
		buf = appendBigEndianMillis(buf, *a.LicenseExpiresAt)
	}

	buf = append(buf, []byte(a.LicenseType)...)
	return buf
}

func appendBigEndianMillis(buf []byte, t time.Time) []byte {
	var millis [8]byte
	binary.BigEndian.PutUint64(millis[:], uint64(t.UnixMilli()))
	return append(buf, millis[:]...)
}

// Validate checks productUid, machineUid, license expiry, activation
// expiry, and the signature, in the fixed order the spec mandates,
// latching and returning the first failing Status. It reports StatusValid only when every check passes.
func (a *Activation) Validate(productUid string, machineUid []byte, verifyingKey []byte, adapter cryptoadapter.Adapter) Status {
	now := time.Now()

	switch {
	case a.ProductUid != productUid:
		a.status = StatusInvalidProductUid
	case !bytesEqual(a.MachineUid, machineUid):
		a.status = StatusInvalidMachineUid
	case a.LicenseExpiresAt != nil && now.After(*a.LicenseExpiresAt):
		a.status = StatusLicenseExpired
	case a.ExpiresAt != nil && now.After(*a.ExpiresAt):
		a.status = StatusActivationExpired
	case !adapter.Verify(a.signingInput(), a.Signature, verifyingKey):
		a.status = StatusInvalidSignature
	default:
		a.status = StatusValid
	}

	return a.status
}

// IsExpired reports whether either expiry timestamp is present and in the
// past, independent of whether the activation matches this product or
// machine.
func (a *Activation) IsExpired() bool {
	now := time.Now()
	if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
		return true
	}
	if a.LicenseExpiresAt != nil && now.After(*a.LicenseExpiresAt) {
		return true
	}
	return false
}

// IsMoreValuableThan implements the total ranking used to pick among
// several locally stored activations for the same product and machine.
// See DESIGN.md for the two deliberately asymmetric tie-break directions:
// absent beats present for LicenseExpiresAt (no expiry is most valuable),
// but present beats absent for ExpiresAt (a renewable lease beats an
// open-ended one).
func (a *Activation) IsMoreValuableThan(other *Activation) bool {
	aExpired, oExpired := a.IsExpired(), other.IsExpired()

	if aExpired && !oExpired {
		return false
	}
	if !aExpired && oExpired {
		return true
	}

	if !timesEqual(a.LicenseExpiresAt, other.LicenseExpiresAt) {
		switch {
		case a.LicenseExpiresAt != nil && other.LicenseExpiresAt != nil:
			if a.LicenseExpiresAt.After(*other.LicenseExpiresAt) {
				return true
			}
			return false
		case a.LicenseExpiresAt != nil:
			// other never expires: other is more valuable.
			return false
		default:
			// a never expires (or both are absent, handled by the
			// timesEqual check above): a is considered more valuable.
			return true
		}
	}

	switch {
	case a.ExpiresAt != nil && other.ExpiresAt != nil:
		if a.ExpiresAt.After(*other.ExpiresAt) {
			return true
		}
		if a.ExpiresAt.Before(*other.ExpiresAt) {
			return false
		}
	case a.ExpiresAt != nil && other.ExpiresAt == nil:
		// present beats absent for ExpiresAt: a outranks other.
		return true
	case a.ExpiresAt == nil && other.ExpiresAt != nil:
		return false
	}

	return a.LicenseType.weight() > other.LicenseType.weight()
}

func timesEqual(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PickMostValuable returns the most valuable activation among candidates
// per IsMoreValuableThan, stable on ties (the first-seen candidate wins an
// exact tie). It returns nil for an empty slice.
func PickMostValuable(candidates []*Activation) *Activation {
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.IsMoreValuableThan(best) {
			best = candidate
		}
	}
	return best
}
