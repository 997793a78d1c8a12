// Package codec implements the base64 wire convention shared by every
// on-disk and on-wire representation in the activation SDK.
package codec

import "encoding/base64"

// EncodeBase64 encodes data using the canonical, padded, non-URL alphabet.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes s using the canonical, padded, non-URL alphabet. An
// empty string decodes to an empty (non-nil) byte slice rather than an
// error, matching the "absent means empty" convention used throughout the
// wire formats.
func DecodeBase64(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
