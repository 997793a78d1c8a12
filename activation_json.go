package licensekit

import (
	"encoding/json"
	"time"

	"licensekit/internal/codec"
)

// activationWire is the exact JSON shape of an Activation on the wire:
// activation_hash, product_uid, machine_uid, expires_at, license_expires_at,
// license_type, signature. Time fields are integer milliseconds or null.
type activationWire struct {
	ActivationHash   string `json:"activation_hash"`
	ProductUid       string `json:"product_uid"`
	MachineUid       string `json:"machine_uid"`
	ExpiresAt        *int64 `json:"expires_at"`
	LicenseExpiresAt *int64 `json:"license_expires_at"`
	LicenseType      string `json:"license_type"`
	Signature        string `json:"signature"`
}

// MarshalJSON serializes the activation in the exact wire shape described
// in the external interfaces section: base64 for byte fields, integer
// milliseconds or null for the two expiry fields.
func (a Activation) MarshalJSON() ([]byte, error) {
	wire := activationWire{
		ActivationHash: codec.EncodeBase64(a.Hash),
		ProductUid:     a.ProductUid,
		MachineUid:     codec.EncodeBase64(a.MachineUid),
		LicenseType:    string(a.LicenseType),
		Signature:      codec.EncodeBase64(a.Signature),
	}
	if a.ExpiresAt != nil {
		millis := a.ExpiresAt.UnixMilli()
		wire.ExpiresAt = &millis
	}
	if a.LicenseExpiresAt != nil {
		millis := a.LicenseExpiresAt.UnixMilli()
		wire.LicenseExpiresAt = &millis
	}
	return json.Marshal(wire)
}

// UnmarshalJSON deserializes an activation from its wire shape. An unknown
// license_type string is rejected rather than silently accepted, since it
// is part of the signed contract.
func (a *Activation) UnmarshalJSON(data []byte) error {
	var wire activationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	hash, err := codec.DecodeBase64(wire.ActivationHash)
	if err != nil {
		return err
	}
	machineUid, err := codec.DecodeBase64(wire.MachineUid)
	if err != nil {
		return err
	}
	signature, err := codec.DecodeBase64(wire.Signature)
	if err != nil {
		return err
	}
	licenseType, err := parseLicenseType(wire.LicenseType)
	if err != nil {
		return err
	}

	a.Hash = hash
	a.ProductUid = wire.ProductUid
	a.MachineUid = machineUid
	a.LicenseType = licenseType
	a.Signature = signature
	a.ExpiresAt = millisToTime(wire.ExpiresAt)
	a.LicenseExpiresAt = millisToTime(wire.LicenseExpiresAt)
	a.status = StatusUndefined
	return nil
}

func millisToTime(millis *int64) *time.Time {
	if millis == nil {
		return nil
	}
	t := time.UnixMilli(*millis)
	return &t
}
