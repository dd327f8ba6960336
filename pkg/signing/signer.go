// Package signing provides the pluggable signing capability used to
// bind a truth state to its state hash. Backends implement Signer;
// verification is a pure function of the state bytes and a public key
// identifier. No secret material ever appears in a state or a hash.
package signing

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

// Signing methods known to verifiers.
const (
	MethodLocalHMAC = "local_hmac"
	MethodEd25519   = "ed25519"
	MethodRemoteKMS = "remote_kms"
)

// Signer is the capability consumed by the compiler.
type Signer interface {
	Sign(data []byte) (string, error)
	KeyID() string
	Method() string
}

// Verifier checks a signature produced by the matching Signer.
type Verifier interface {
	Verify(data []byte, signatureHex string) (bool, error)
}

// HMACSigner signs with an HKDF-derived per-key-id secret.
type HMACSigner struct {
	key   []byte
	keyID string
}

// NewHMACSigner derives the signing key for keyID from the master
// secret, so rotating key ids never reuses key material.
func NewHMACSigner(master []byte, keyID string) (*HMACSigner, error) {
	if len(master) == 0 {
		return nil, fault.New(fault.SigningUnavailable, "empty master secret")
	}
	r := hkdf.New(sha256.New, master, []byte("verity-signing"), []byte(keyID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fault.Wrap(fault.SigningUnavailable, err, "hkdf derivation failed")
	}
	return &HMACSigner{key: key, keyID: keyID}, nil
}

func (s *HMACSigner) Sign(data []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s *HMACSigner) KeyID() string  { return s.keyID }
func (s *HMACSigner) Method() string { return MethodLocalHMAC }

// Verify recomputes the MAC in constant time.
func (s *HMACSigner) Verify(data []byte, signatureHex string) (bool, error) {
	want, err := s.Sign(data)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(want), []byte(signatureHex)), nil
}

// Ed25519Signer signs with an Ed25519 private key.
type Ed25519Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// NewEd25519Signer builds a signer from a 32-byte seed.
func NewEd25519Signer(seed []byte, keyID string) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fault.Newf(fault.SigningUnavailable, "seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		keyID: keyID,
	}, nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.priv, data)), nil
}

func (s *Ed25519Signer) KeyID() string  { return s.keyID }
func (s *Ed25519Signer) Method() string { return MethodEd25519 }

// PublicKeyHex exposes the verification key.
func (s *Ed25519Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// VerifyEd25519 checks an ed25519 signature against a hex public key.
func VerifyEd25519(pubKeyHex, signatureHex string, data []byte) (bool, error) {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fault.Wrap(fault.SigningRefused, err, "invalid public key hex")
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fault.Newf(fault.SigningRefused, "public key is %d bytes, need %d", len(pub), ed25519.PublicKeySize)
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, fault.Wrap(fault.SigningRefused, err, "invalid signature hex")
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}

// Unavailable is a Signer that always refuses; hosts inject it when the
// key backend is down so compiles fail with the right code instead of
// producing unsigned finals.
type Unavailable struct{ Reason string }

func (u Unavailable) Sign([]byte) (string, error) {
	return "", fault.Newf(fault.SigningUnavailable, "signing backend unavailable: %s", u.Reason)
}
func (u Unavailable) KeyID() string  { return "" }
func (u Unavailable) Method() string { return MethodRemoteKMS }

// SignState signs the sealed state hash and fills the security block.
// The state must already carry its hashes (SealHashes).
func SignState(s Signer, state *truthstate.TruthState, signedAt time.Time) error {
	if state.Security.StateHash == "" {
		return fault.New(fault.SigningRefused, "state hash not sealed before signing")
	}
	sig, err := s.Sign([]byte(state.Security.StateHash))
	if err != nil {
		return err
	}
	state.Security.Signature = sig
	state.Security.SigningMethod = s.Method()
	state.Security.KeyID = s.KeyID()
	state.Security.SignedAt = signedAt.UTC()
	return nil
}
