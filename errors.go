package licensekit

import licerrors "licensekit/internal/errors"

// Kind and Error are re-exported at the module root so host applications
// never need to import an internal package to branch on error kind.
type Kind = licerrors.Kind

// Error is the concrete error type every operation in this module returns.
type Error = licerrors.Error

const (
	KindConfiguration = licerrors.KindConfiguration
	KindInput         = licerrors.KindInput
	KindTransport     = licerrors.KindTransport
	KindServer        = licerrors.KindServer
	KindCrypto        = licerrors.KindCrypto
	KindStore         = licerrors.KindStore
	KindValidation    = licerrors.KindValidation
	KindFileShape     = licerrors.KindFileShape
)
