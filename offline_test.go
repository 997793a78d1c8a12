package licensekit

import (
	cryptorand "crypto/rand"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"licensekit/internal/codec"
	"licensekit/internal/cryptoadapter"
)

// Scenario 6: product_uid and machine_uid travel in the clear; email,
// license key, and device info are sealed-box ciphertexts of length
// plaintext_len + 48, base64-encoded.
func TestOfflineActivationRequest_SealsSensitiveFieldsOnly(t *testing.T) {
	adapter := cryptoadapter.New()
	recipientPublic, _, err := box.GenerateKey(cryptorand.Reader)
	require.NoError(t, err)

	deviceInfo := "Acme Workstation, Linux, x86_64"
	envelope, err := NewOfflineActivationRequest(
		adapter,
		"product-123",
		"bWFjaGluZS11aWQ=",
		"user@example.com",
		"XXXX-YYYY-ZZZZ",
		&deviceInfo,
		recipientPublic[:],
	)
	require.NoError(t, err)

	assert.Equal(t, "product-123", envelope.ActivationRequest.ProductUid)
	assert.Equal(t, "bWFjaGluZS11aWQ=", envelope.ActivationRequest.MachineUid)

	assertSealedLength(t, envelope.ActivationRequest.EmailAddress, len("user@example.com"))
	assertSealedLength(t, envelope.ActivationRequest.LicenseKey, len("XXXX-YYYY-ZZZZ"))
	require.NotNil(t, envelope.ActivationRequest.DeviceInfo)
	assertSealedLength(t, *envelope.ActivationRequest.DeviceInfo, len(deviceInfo))
}

func assertSealedLength(t *testing.T, base64Ciphertext string, plaintextLen int) {
	t.Helper()
	raw, err := codec.DecodeBase64(base64Ciphertext)
	require.NoError(t, err)
	assert.Len(t, raw, plaintextLen+cryptoadapter.SealOverhead)
}

func TestOfflineRequest_MarshalJSON_TaggedUnionShape(t *testing.T) {
	adapter := cryptoadapter.New()
	recipientPublic, _, err := box.GenerateKey(cryptorand.Reader)
	require.NoError(t, err)

	envelope, err := NewOfflineTrialRequest(adapter, "product", "bWFjaGluZQ==", "user@example.com", nil, recipientPublic[:])
	require.NoError(t, err)

	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))

	_, hasTrial := raw["TrialRequest"]
	_, hasActivation := raw["ActivationRequest"]
	assert.True(t, hasTrial)
	assert.False(t, hasActivation)
}

func TestOfflineRequest_UnmarshalJSON_RoundTrip(t *testing.T) {
	adapter := cryptoadapter.New()
	recipientPublic, _, err := box.GenerateKey(cryptorand.Reader)
	require.NoError(t, err)

	original, err := NewOfflineActivationRequest(adapter, "product", "bWFjaGluZQ==", "user@example.com", "KEY", nil, recipientPublic[:])
	require.NoError(t, err)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded OfflineRequest
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.NotNil(t, decoded.ActivationRequest)
	assert.Equal(t, "product", decoded.ActivationRequest.ProductUid)
}

func TestOfflineRequest_UnmarshalJSON_RejectsUnknownVariant(t *testing.T) {
	var decoded OfflineRequest
	err := json.Unmarshal([]byte(`{"SomethingElse": {}}`), &decoded)
	assert.Error(t, err)
}
