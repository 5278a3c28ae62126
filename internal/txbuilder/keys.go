package txbuilder

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// PublicKey is a 32-byte ed25519 account key. Addresses travel through the
// API and storage as lowercase hex.
type PublicKey [32]byte

// Blockhash is the freshness token a transaction must reference. The zero
// value means "no token supplied".
type Blockhash [32]byte

// Signature is a detached ed25519 signature over the serialized message.
type Signature [64]byte

// ParseAddress decodes a hex-encoded 32-byte account address.
func ParseAddress(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("parse address %q: %w", s, err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("parse address %q: expected %d bytes, got %d", s, len(pk), len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }

// IsZero reports whether the key is unset.
func (p PublicKey) IsZero() bool { return p == PublicKey{} }

func (b Blockhash) String() string { return hex.EncodeToString(b[:]) }

// IsZero reports whether the blockhash is unset.
func (b Blockhash) IsZero() bool { return b == Blockhash{} }

func (s Signature) String() string { return hex.EncodeToString(s[:]) }

// IsZero reports whether the signature slot is still empty.
func (s Signature) IsZero() bool { return s == Signature{} }

// Signer produces signatures for one account. The production implementation
// lives in the external keystore; LocalSigner backs tests, the dev keystore
// and the in-process co-signer.
type Signer interface {
	PublicKey() PublicKey
	Sign(message []byte) (Signature, error)
}

// LocalSigner signs with an in-memory ed25519 private key.
type LocalSigner struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// NewLocalSigner wraps an ed25519 private key.
func NewLocalSigner(priv ed25519.PrivateKey) (*LocalSigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key size %d", len(priv))
	}
	var pub PublicKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return &LocalSigner{priv: priv, pub: pub}, nil
}

func (l *LocalSigner) PublicKey() PublicKey { return l.pub }

func (l *LocalSigner) Sign(message []byte) (Signature, error) {
	var sig Signature
	copy(sig[:], ed25519.Sign(l.priv, message))
	return sig, nil
}

// Verify checks sig over message for the given account key.
func Verify(pub PublicKey, message []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), message, sig[:])
}
