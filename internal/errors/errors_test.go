package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := Input("email address is empty", nil)
	assert.Equal(t, "InputError: email address is empty", err.Error())
}

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Store("failed to open database", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestError_IsMatchesByKindOnly(t *testing.T) {
	err := Transport("no response from server", errors.New("dial tcp: timeout"))
	assert.True(t, errors.Is(err, &Error{Kind: KindTransport}))
	assert.False(t, errors.Is(err, &Error{Kind: KindServer}))
}

func TestServer_CarriesStatusAndBody(t *testing.T) {
	err := Server(503, `{"error":"unavailable"}`)
	assert.Equal(t, KindServer, err.Kind)
	assert.Equal(t, 503, err.StatusCode)
	assert.Equal(t, `{"error":"unavailable"}`, err.Body)
}

func TestValidation_CarriesStatusDetail(t *testing.T) {
	err := Validation("LicenseExpired")
	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, "LicenseExpired", err.Detail)
}

func TestFileShape_MisidentifiedRequestFile(t *testing.T) {
	err := FileShape("This is a request file. Please install a response file.")
	assert.Equal(t, KindFileShape, err.Kind)
	assert.Equal(t, "This is a request file. Please install a response file.", err.Message)
}
