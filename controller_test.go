package licensekit

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit/internal/codec"
)

func testProductData(t *testing.T, verifyingKey ed25519.PublicKey, cryptoPublicKey []byte, serverURL string) string {
	t.Helper()

	raw, err := json.Marshal(map[string]string{
		"organisation_name":             "acme",
		"product_name":                  "widget",
		"product_uid":                   "widget-1",
		"verifying_key":                 codec.EncodeBase64(verifyingKey),
		"crypto_public_key":             codec.EncodeBase64(cryptoPublicKey),
		"primary_public_server_address": serverURL,
		"secondary_public_server_address": "",
	})
	require.NoError(t, err)

	return codec.EncodeBase64(raw)
}

func newTestController(t *testing.T, serverURL string) (*Controller, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()

	verifyingKey, signingKey := newTestKeypair(t)
	machineUid := []byte{1, 2, 3, 4}

	dbPath := filepath.Join(t.TempDir(), "activations.db")
	controller := New(machineUid, WithDatabaseFile(dbPath))

	productData := testProductData(t, verifyingKey, make([]byte, 32), serverURL)
	require.NoError(t, controller.SetProductData(productData))

	return controller, verifyingKey, signingKey
}

func TestController_RequiresProductData(t *testing.T) {
	controller := New([]byte{1})

	_, err := controller.Validate(context.Background(), LocalOnly)
	require.Error(t, err)
	var licErr *Error
	require.ErrorAs(t, err, &licErr)
	assert.Equal(t, KindConfiguration, licErr.Kind)
}

func TestController_SetProductData_OpensStore(t *testing.T) {
	controller, _, _ := newTestController(t, "http://example.invalid")
	assert.NotNil(t, controller.db)
	assert.NotNil(t, controller.client)
}

func TestController_Activate_InstallsActivation(t *testing.T) {
	var signingKey ed25519.PrivateKey

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		future := time.Now().Add(time.Hour).Truncate(time.Millisecond)
		activation := &Activation{
			Hash:        []byte{9, 9, 9},
			ProductUid:  "widget-1",
			MachineUid:  []byte{1, 2, 3, 4},
			ExpiresAt:   &future,
			LicenseType: LicensePerpetual,
		}
		activation.Signature = ed25519.Sign(signingKey, activation.signingInput())

		// The activation expires inside the refresh window, so the
		// Validate(Online) call installActivation makes after saving posts
		// it to /update-activations, which answers with an array.
		var body []byte
		if r.URL.Path == "/update-activations" {
			body, _ = json.Marshal([]*Activation{activation})
		} else {
			body, _ = json.Marshal(activation)
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer server.Close()

	controller, _, key := newTestController(t, server.URL)
	signingKey = key

	activation, err := controller.Activate(context.Background(), "jane@example.com", "LICENSE-KEY")
	require.NoError(t, err)
	require.NotNil(t, activation)
	assert.Equal(t, StatusValid, activation.Status())

	rows, err := controller.db.ListFor(context.Background(), "widget-1", []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// Scenario 4: local store has {H1, H2}; server returns only H1, so after
// Validate(ForceOnline) the store contains exactly {H1}. A second round where
// the server returns {H1, H3} leaves the store at {H1, H3}.
func TestController_Validate_RefreshDiffDeletes(t *testing.T) {
	var signingKey ed25519.PrivateKey
	var response []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(response)
	}))
	defer server.Close()

	controller, _, key := newTestController(t, server.URL)
	signingKey = key

	machineUid := []byte{1, 2, 3, 4}
	future := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	h1 := signedActivation(t, signingKey, &Activation{
		Hash: []byte{1}, ProductUid: "widget-1", MachineUid: machineUid,
		ExpiresAt: &future, LicenseType: LicensePerpetual,
	})
	h2 := signedActivation(t, signingKey, &Activation{
		Hash: []byte{2}, ProductUid: "widget-1", MachineUid: machineUid,
		ExpiresAt: &future, LicenseType: LicensePerpetual,
	})
	require.NoError(t, controller.db.Save(context.Background(), activationToRow(h1), time.Now().UnixMilli()))
	require.NoError(t, controller.db.Save(context.Background(), activationToRow(h2), time.Now().UnixMilli()))

	body, err := json.Marshal([]*Activation{h1})
	require.NoError(t, err)
	response = body

	_, err = controller.Validate(context.Background(), ForceOnline)
	require.NoError(t, err)

	rows, err := controller.db.ListFor(context.Background(), "widget-1", machineUid)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, []byte{1}, rows[0].Hash)

	h3 := signedActivation(t, signingKey, &Activation{
		Hash: []byte{3}, ProductUid: "widget-1", MachineUid: machineUid,
		ExpiresAt: &future, LicenseType: LicensePerpetual,
	})
	body, err = json.Marshal([]*Activation{h1, h3})
	require.NoError(t, err)
	response = body

	_, err = controller.Validate(context.Background(), ForceOnline)
	require.NoError(t, err)

	rows, err = controller.db.ListFor(context.Background(), "widget-1", machineUid)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

// Scenario 5: installing a saved request envelope instead of a response
// fails with a descriptive FileShapeError.
func TestController_InstallActivationFile_RejectsRequestFile(t *testing.T) {
	controller, _, _ := newTestController(t, "http://example.invalid")

	file := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, controller.SaveActivationRequest("jane@example.com", "LICENSE-KEY", file, false))

	err := controller.InstallActivationFile(context.Background(), file)
	require.Error(t, err)

	var licErr *Error
	require.ErrorAs(t, err, &licErr)
	assert.Equal(t, KindFileShape, licErr.Kind)
	assert.Contains(t, licErr.Message, "This is a request file")
}

func TestController_AddListener_CalledImmediatelyAndOnValidate(t *testing.T) {
	controller, _, _ := newTestController(t, "http://example.invalid")

	var calls int
	sub := controller.AddListener(func(current *Activation) {
		calls++
	})
	defer sub.Close()

	assert.Equal(t, 1, calls)

	_, err := controller.Validate(context.Background(), LocalOnly)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	sub.Close()
	_, err = controller.Validate(context.Background(), LocalOnly)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestController_DestroyAllLocalActivations(t *testing.T) {
	controller, _, signingKey := newTestController(t, "http://example.invalid")
	machineUid := []byte{1, 2, 3, 4}
	future := time.Now().Add(time.Hour)

	a := signedActivation(t, signingKey, &Activation{
		Hash: []byte{7}, ProductUid: "widget-1", MachineUid: machineUid,
		ExpiresAt: &future, LicenseType: LicensePerpetual,
	})
	require.NoError(t, controller.db.Save(context.Background(), activationToRow(a), time.Now().UnixMilli()))

	count, err := controller.DestroyAllLocalActivations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rows, err := controller.db.ListFor(context.Background(), "widget-1", machineUid)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestController_GetTrialStatus_Transitions(t *testing.T) {
	controller, _, signingKey := newTestController(t, "http://example.invalid")
	machineUid := []byte{1, 2, 3, 4}

	status, err := controller.GetTrialStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TrialAvailable, status)

	future := time.Now().Add(time.Hour)
	active := signedActivation(t, signingKey, &Activation{
		Hash: []byte{5}, ProductUid: "widget-1", MachineUid: machineUid,
		LicenseExpiresAt: &future, LicenseType: LicenseTrial,
	})
	require.NoError(t, controller.db.Save(context.Background(), activationToRow(active), time.Now().UnixMilli()))

	status, err = controller.GetTrialStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TrialActive, status)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, controller.db.Delete(context.Background(), []byte{5}))
	expired := signedActivation(t, signingKey, &Activation{
		Hash: []byte{6}, ProductUid: "widget-1", MachineUid: machineUid,
		LicenseExpiresAt: &past, LicenseType: LicenseTrial,
	})
	require.NoError(t, controller.db.Save(context.Background(), activationToRow(expired), time.Now().UnixMilli()))

	status, err = controller.GetTrialStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TrialExpired, status)
}

func TestController_GetStatusUserMessage_HidesDetailsWhenRequested(t *testing.T) {
	controller, _, _ := newTestController(t, "http://example.invalid")

	assert.Equal(t, StatusNoActivationLoaded, controller.GetStatus())
	assert.Equal(t, "Invalid activation (2)", controller.GetStatusUserMessage(true))
	assert.Equal(t, "No activation loaded", controller.GetStatusUserMessage(false))
}
