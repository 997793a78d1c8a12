package licensekit

import (
	"encoding/json"

	licerrors "licensekit/internal/errors"
	"licensekit/internal/codec"
)

// ProductData is the host-supplied, immutable-after-set configuration
// binding a Controller to a specific product and license server. It is
// supplied as a base64-encoded JSON blob (see DecodeProductData).
type ProductData struct {
	OrganisationName              string `json:"organisation_name"`
	ProductName                   string `json:"product_name"`
	ProductUid                    string `json:"product_uid"`
	VerifyingKey                  []byte `json:"verifying_key"`
	CryptoPublicKey               []byte `json:"crypto_public_key"`
	PrimaryPublicServerAddress    string `json:"primary_public_server_address"`
	SecondaryPublicServerAddress  string `json:"secondary_public_server_address"`
}

// productDataWire mirrors ProductData but with the two key fields carried
// as base64 strings, matching the wire format.
type productDataWire struct {
	OrganisationName             string `json:"organisation_name"`
	ProductName                  string `json:"product_name"`
	ProductUid                   string `json:"product_uid"`
	VerifyingKey                 string `json:"verifying_key"`
	CryptoPublicKey              string `json:"crypto_public_key"`
	PrimaryPublicServerAddress   string `json:"primary_public_server_address"`
	SecondaryPublicServerAddress string `json:"secondary_public_server_address"`
}

// DecodeProductData decodes a base64-encoded JSON ProductData blob as
// supplied by the host application. Any failure — bad base64, bad JSON, an
// empty blob — is surfaced as a ConfigurationError.
func DecodeProductData(encoded string) (*ProductData, error) {
	if encoded == "" {
		return nil, licerrors.Configuration("product data is empty", nil)
	}

	raw, err := codec.DecodeBase64(encoded)
	if err != nil {
		return nil, licerrors.Configuration("product data is not valid base64", err)
	}

	var wire productDataWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, licerrors.Configuration("product data is not valid JSON", err)
	}

	verifyingKey, err := codec.DecodeBase64(wire.VerifyingKey)
	if err != nil {
		return nil, licerrors.Configuration("verifying_key is not valid base64", err)
	}
	cryptoPublicKey, err := codec.DecodeBase64(wire.CryptoPublicKey)
	if err != nil {
		return nil, licerrors.Configuration("crypto_public_key is not valid base64", err)
	}

	return &ProductData{
		OrganisationName:              wire.OrganisationName,
		ProductName:                   wire.ProductName,
		ProductUid:                    wire.ProductUid,
		VerifyingKey:                  verifyingKey,
		CryptoPublicKey:                cryptoPublicKey,
		PrimaryPublicServerAddress:    wire.PrimaryPublicServerAddress,
		SecondaryPublicServerAddress:  wire.SecondaryPublicServerAddress,
	}, nil
}

// String returns a loggable summary that omits both key fields.
func (p *ProductData) String() string {
	return "ProductData{organisationName=" + p.OrganisationName +
		", productName=" + p.ProductName +
		", productUid=" + p.ProductUid +
		", primaryPublicServerAddress=" + p.PrimaryPublicServerAddress +
		", secondaryPublicServerAddress=" + p.SecondaryPublicServerAddress + "}"
}
