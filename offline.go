package licensekit

import (
	"encoding/json"

	licerrors "licensekit/internal/errors"
	"licensekit/internal/codec"
	"licensekit/internal/cryptoadapter"
)

// OfflineActivationRequest is the sealed, portable counterpart of
// ActivationRequest for air-gapped machines. EmailAddress, LicenseKey, and
// DeviceInfo are each independently sealed-box-encrypted to the product's
// CryptoPublicKey and then base64-encoded; ProductUid and MachineUid
// travel in the clear.
type OfflineActivationRequest struct {
	ProductUid   string
	MachineUid   string
	EmailAddress string
	LicenseKey   string
	DeviceInfo   *string
}

// OfflineTrialRequest is the sealed, portable counterpart of TrialRequest.
type OfflineTrialRequest struct {
	ProductUid   string
	MachineUid   string
	EmailAddress string
	DeviceInfo   *string
}

// OfflineRequest is a tagged union with exactly one populated variant,
// serialized on disk as {"ActivationRequest": {...}} or
// {"TrialRequest": {...}}.
type OfflineRequest struct {
	ActivationRequest *OfflineActivationRequest
	TrialRequest      *OfflineTrialRequest
}

type offlineActivationWire struct {
	ProductUid   string  `json:"product_uid"`
	MachineUid   string  `json:"machine_uid"`
	EmailAddress string  `json:"email_address"`
	LicenseKey   string  `json:"license_key"`
	DeviceInfo   *string `json:"device_info,omitempty"`
}

type offlineTrialWire struct {
	ProductUid   string  `json:"product_uid"`
	MachineUid   string  `json:"machine_uid"`
	EmailAddress string  `json:"email_address"`
	DeviceInfo   *string `json:"device_info,omitempty"`
}

// NewOfflineActivationRequest builds an offline envelope for a full
// activation request, sealing emailAddress, licenseKey, and the optional
// deviceInfo individually to recipientPublicKey.
func NewOfflineActivationRequest(
	adapter cryptoadapter.Adapter,
	productUid, machineUidBase64, emailAddress, licenseKey string,
	deviceInfo *string,
	recipientPublicKey []byte,
) (*OfflineRequest, error) {
	sealedEmail, err := sealToBase64(adapter, emailAddress, recipientPublicKey)
	if err != nil {
		return nil, err
	}
	sealedLicenseKey, err := sealToBase64(adapter, licenseKey, recipientPublicKey)
	if err != nil {
		return nil, err
	}
	sealedDeviceInfo, err := sealOptionalToBase64(adapter, deviceInfo, recipientPublicKey)
	if err != nil {
		return nil, err
	}

	return &OfflineRequest{
		ActivationRequest: &OfflineActivationRequest{
			ProductUid:   productUid,
			MachineUid:   machineUidBase64,
			EmailAddress: sealedEmail,
			LicenseKey:   sealedLicenseKey,
			DeviceInfo:   sealedDeviceInfo,
		},
	}, nil
}

// NewOfflineTrialRequest builds an offline envelope for a trial request,
// sealing emailAddress and the optional deviceInfo individually to
// recipientPublicKey.
func NewOfflineTrialRequest(
	adapter cryptoadapter.Adapter,
	productUid, machineUidBase64, emailAddress string,
	deviceInfo *string,
	recipientPublicKey []byte,
) (*OfflineRequest, error) {
	sealedEmail, err := sealToBase64(adapter, emailAddress, recipientPublicKey)
	if err != nil {
		return nil, err
	}
	sealedDeviceInfo, err := sealOptionalToBase64(adapter, deviceInfo, recipientPublicKey)
	if err != nil {
		return nil, err
	}

	return &OfflineRequest{
		TrialRequest: &OfflineTrialRequest{
			ProductUid:   productUid,
			MachineUid:   machineUidBase64,
			EmailAddress: sealedEmail,
			DeviceInfo:   sealedDeviceInfo,
		},
	}, nil
}

func sealToBase64(adapter cryptoadapter.Adapter, plaintext string, recipientPublicKey []byte) (string, error) {
	sealed, err := adapter.Seal([]byte(plaintext), recipientPublicKey)
	if err != nil {
		return "", err
	}
	return codec.EncodeBase64(sealed), nil
}

func sealOptionalToBase64(adapter cryptoadapter.Adapter, plaintext *string, recipientPublicKey []byte) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	sealed, err := sealToBase64(adapter, *plaintext, recipientPublicKey)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

// MarshalJSON serializes the envelope as a single-key object naming
// whichever variant is populated.
func (r OfflineRequest) MarshalJSON() ([]byte, error) {
	switch {
	case r.ActivationRequest != nil:
		wire := offlineActivationWire{
			ProductUid:   r.ActivationRequest.ProductUid,
			MachineUid:   r.ActivationRequest.MachineUid,
			EmailAddress: r.ActivationRequest.EmailAddress,
			LicenseKey:   r.ActivationRequest.LicenseKey,
			DeviceInfo:   r.ActivationRequest.DeviceInfo,
		}
		return json.Marshal(map[string]offlineActivationWire{"ActivationRequest": wire})
	case r.TrialRequest != nil:
		wire := offlineTrialWire{
			ProductUid:   r.TrialRequest.ProductUid,
			MachineUid:   r.TrialRequest.MachineUid,
			EmailAddress: r.TrialRequest.EmailAddress,
			DeviceInfo:   r.TrialRequest.DeviceInfo,
		}
		return json.Marshal(map[string]offlineTrialWire{"TrialRequest": wire})
	default:
		return nil, licerrors.Input("offline request has neither an activation nor a trial variant set", nil)
	}
}

// UnmarshalJSON parses whichever of the two tagged variants is present.
func (r *OfflineRequest) UnmarshalJSON(data []byte) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	if raw, ok := envelope["ActivationRequest"]; ok {
		var wire offlineActivationWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return err
		}
		r.ActivationRequest = &OfflineActivationRequest{
			ProductUid:   wire.ProductUid,
			MachineUid:   wire.MachineUid,
			EmailAddress: wire.EmailAddress,
			LicenseKey:   wire.LicenseKey,
			DeviceInfo:   wire.DeviceInfo,
		}
		return nil
	}

	if raw, ok := envelope["TrialRequest"]; ok {
		var wire offlineTrialWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return err
		}
		r.TrialRequest = &OfflineTrialRequest{
			ProductUid:   wire.ProductUid,
			MachineUid:   wire.MachineUid,
			EmailAddress: wire.EmailAddress,
			DeviceInfo:   wire.DeviceInfo,
		}
		return nil
	}

	return licerrors.FileShape("offline request envelope has neither an ActivationRequest nor a TrialRequest key")
}
