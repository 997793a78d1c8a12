package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit"
	"licensekit/internal/codec"
	"licensekit/internal/logging"
	"licensekit/internal/telemetry"
)

// signActivation signs a with the same wire construction the controller's
// signature verification expects: hash, product UID, machine UID, then —
// only if present — expiresAt and licenseExpiresAt as big-endian
// millisecond int64s, then the license type's textual name.
func signActivation(a *licensekit.Activation, signingKey ed25519.PrivateKey) {
	buf := append([]byte{}, a.Hash...)
	buf = append(buf, []byte(a.ProductUid)...)
	buf = append(buf, a.MachineUid...)
	if a.ExpiresAt != nil {
		buf = appendBigEndianMillis(buf, *a.ExpiresAt)
	}
	if a.LicenseExpiresAt != nil {
		buf = appendBigEndianMillis(buf, *a.LicenseExpiresAt)
	}
	buf = append(buf, []byte(a.LicenseType)...)
	a.Signature = ed25519.Sign(signingKey, buf)
}

func appendBigEndianMillis(buf []byte, t time.Time) []byte {
	var millis [8]byte
	binary.BigEndian.PutUint64(millis[:], uint64(t.UnixMilli()))
	return append(buf, millis[:]...)
}

// newTestRouter builds a router backed by a real Controller pointed at an
// httptest server running licenseHandler. A nil licenseHandler stands in
// for a license server that is never expected to be called.
func newTestRouter(t *testing.T, licenseHandler http.HandlerFunc) (http.Handler, ed25519.PrivateKey) {
	t.Helper()

	verifyingKey, signingKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	if licenseHandler == nil {
		licenseHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("[]"))
		}
	}
	licenseServer := httptest.NewServer(licenseHandler)
	t.Cleanup(licenseServer.Close)

	productData, err := json.Marshal(map[string]string{
		"organisation_name":               "acme",
		"product_name":                    "widget",
		"product_uid":                     "widget-1",
		"verifying_key":                   codec.EncodeBase64(verifyingKey),
		"crypto_public_key":               codec.EncodeBase64(make([]byte, 32)),
		"primary_public_server_address":   licenseServer.URL,
		"secondary_public_server_address": "",
	})
	require.NoError(t, err)

	providers, err := telemetry.Init(telemetry.Options{
		ServiceName:   "activationd-test",
		TraceToStdout: false,
		Registerer:    prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	metrics, err := telemetry.NewActivationMetrics(providers.Meter)
	require.NoError(t, err)

	logger := logging.New("error", "text")

	controller := licensekit.New([]byte{1, 2, 3, 4},
		licensekit.WithLogger(logger),
		licensekit.WithTracer(providers.Tracer),
		licensekit.WithMetrics(metrics),
		licensekit.WithDatabaseFile(filepath.Join(t.TempDir(), "activations.db")),
	)
	require.NoError(t, controller.SetProductData(codec.EncodeBase64(productData)))

	return newRouter(controller, providers, logger, "/metrics"), signingKey
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus_NoActivationLoaded(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(licensekit.StatusNoActivationLoaded), body.Status)
}

func TestActivate_RejectsMalformedEmail(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	payload, _ := json.Marshal(activateRequestBody{Email: "not-an-email", LicenseKey: "LICENSE-KEY"})
	req := httptest.NewRequest(http.MethodPost, "/activate", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "InputError", body.Kind)
}

func TestActivate_InstallsActivation(t *testing.T) {
	var signingKey ed25519.PrivateKey

	router, key := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {
		future := time.Now().Add(time.Hour).Truncate(time.Millisecond)
		activation := &licensekit.Activation{
			Hash:        []byte{1, 2, 3},
			ProductUid:  "widget-1",
			MachineUid:  []byte{1, 2, 3, 4},
			ExpiresAt:   &future,
			LicenseType: licensekit.LicensePerpetual,
		}
		signActivation(activation, signingKey)

		switch r.URL.Path {
		case "/update-activations":
			// The activation expires inside the refresh window, so the
			// Validate(Online) call installActivation triggers right after
			// saving immediately asks the server about it again.
			body, _ := json.Marshal([]*licensekit.Activation{activation})
			w.WriteHeader(http.StatusOK)
			w.Write(body)
		default:
			body, _ := json.Marshal(activation)
			w.WriteHeader(http.StatusOK)
			w.Write(body)
		}
	})
	signingKey = key

	payload, _ := json.Marshal(activateRequestBody{Email: "jane@example.com", LicenseKey: "LICENSE-KEY"})
	req := httptest.NewRequest(http.MethodPost, "/activate", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body activationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(licensekit.StatusValid), body.Status)
}
