// Package cryptoadapter wraps the three cryptographic primitives the
// activation core consumes as pure functions: a generic hash, anonymous
// sealed-box encryption, and detached-signature verification. Nothing in
// this package is activation-domain aware; it knows byte widths, not
// activations.
package cryptoadapter

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	licerrors "licensekit/internal/errors"
)

const (
	// HashSize is the width of GenericHash's output.
	HashSize = 32
	// PublicKeySize is the width of both verifying keys and sealed-box
	// recipient public keys.
	PublicKeySize = 32
	// SignatureSize is the width of a detached ed25519 signature.
	SignatureSize = ed25519.SignatureSize
	// SealOverhead is the number of bytes a sealed-box ciphertext is
	// longer than its plaintext: a 32-byte ephemeral public key plus a
	// 16-byte Poly1305 authentication tag.
	SealOverhead = 32 + box.Overhead
)

// Adapter is the interface the activation core depends on. The default
// implementation below is process-wide safe to share; Adapter exists so
// tests can substitute a deterministic fake.
type Adapter interface {
	GenericHash(data []byte) ([]byte, error)
	Seal(plaintext, recipientPublicKey []byte) ([]byte, error)
	Verify(message, signature, verifyingKey []byte) bool
}

// Default is a libsodium-compatible Adapter built from golang.org/x/crypto
// primitives and the standard library's ed25519 implementation.
type Default struct {
	rand io.Reader
}

// New returns the default Adapter. There is no process-wide initialization
// step to fail in the Go rendition (unlike libsodium's sodium_init); the
// constructor exists so call sites read the same way as the rest of the
// component inventory and so tests can inject a deterministic rand source.
func New() *Default {
	return &Default{rand: rand.Reader}
}

// GenericHash computes a BLAKE2b-256 hash of data.
func (d *Default) GenericHash(data []byte) ([]byte, error) {
	sum := blake2b.Sum256(data)
	return sum[:], nil
}

// Seal anonymously encrypts plaintext to recipientPublicKey using an
// ephemeral X25519 keypair, matching libsodium's crypto_box_seal: the
// ciphertext is the ephemeral public key followed by a nacl/box-sealed
// payload whose nonce is derived deterministically from the ephemeral and
// recipient public keys so the recipient can reconstruct it without it
// being transmitted separately.
func (d *Default) Seal(plaintext, recipientPublicKey []byte) ([]byte, error) {
	if len(recipientPublicKey) != PublicKeySize {
		return nil, licerrors.Crypto(fmt.Sprintf("recipient public key must be %d bytes, got %d", PublicKeySize, len(recipientPublicKey)), nil)
	}

	var recipientKey [32]byte
	copy(recipientKey[:], recipientPublicKey)

	ephemeralPublic, ephemeralPrivate, err := box.GenerateKey(d.rand)
	if err != nil {
		return nil, licerrors.Crypto("failed to generate ephemeral keypair", err)
	}

	nonce, err := sealNonce(ephemeralPublic[:], recipientPublicKey)
	if err != nil {
		return nil, licerrors.Crypto("failed to derive seal nonce", err)
	}

	sealed := box.Seal(nil, plaintext, &nonce, &recipientKey, ephemeralPrivate)

	ciphertext := make([]byte, 0, len(ephemeralPublic)+len(sealed))
	ciphertext = append(ciphertext, ephemeralPublic[:]...)
	ciphertext = append(ciphertext, sealed...)
	return ciphertext, nil
}

// Verify reports whether signature is a valid ed25519 detached signature
// over message under verifyingKey.
func (d *Default) Verify(message, signature, verifyingKey []byte) bool {
	if len(verifyingKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(verifyingKey), message, signature)
}

// OpenSealed reverses Seal given the recipient's private key. The core
// never calls this — the client only ever seals, to the server's public
// key — but it is exported so tests can assert round-trip correctness of
// sealed envelope fields.
func OpenSealed(ciphertext, recipientPrivateKey []byte) ([]byte, error) {
	if len(ciphertext) < PublicKeySize+box.Overhead {
		return nil, licerrors.Crypto("ciphertext too short to contain an ephemeral public key and seal overhead", nil)
	}
	if len(recipientPrivateKey) != 32 {
		return nil, licerrors.Crypto(fmt.Sprintf("recipient private key must be 32 bytes, got %d", len(recipientPrivateKey)), nil)
	}

	var ephemeralPublic, recipientPrivate [32]byte
	copy(ephemeralPublic[:], ciphertext[:PublicKeySize])
	copy(recipientPrivate[:], recipientPrivateKey)

	recipientPublic, err := publicFromPrivate(recipientPrivate)
	if err != nil {
		return nil, licerrors.Crypto("failed to derive recipient public key", err)
	}

	nonce, err := sealNonce(ephemeralPublic[:], recipientPublic[:])
	if err != nil {
		return nil, licerrors.Crypto("failed to derive seal nonce", err)
	}

	plaintext, ok := box.Open(nil, ciphertext[PublicKeySize:], &nonce, &ephemeralPublic, &recipientPrivate)
	if !ok {
		return nil, licerrors.Crypto("failed to open sealed box: authentication failed", nil)
	}
	return plaintext, nil
}

func publicFromPrivate(private [32]byte) ([32]byte, error) {
	var public [32]byte
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return public, err
	}
	copy(public[:], pub)
	return public, nil
}

// sealNonce derives the 24-byte nacl/box nonce from the ephemeral and
// recipient public keys, the same construction libsodium uses internally
// for crypto_box_seal so that no nonce needs to be transmitted alongside
// the ciphertext.
func sealNonce(ephemeralPublic, recipientPublic []byte) ([24]byte, error) {
	var nonce [24]byte
	h, err := blake2b.New(24, nil)
	if err != nil {
		return nonce, err
	}
	h.Write(ephemeralPublic)
	h.Write(recipientPublic)
	copy(nonce[:], h.Sum(nil))
	return nonce, nil
}
