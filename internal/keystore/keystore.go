// Package keystore abstracts custody of user and wallet signing keys. The
// engine never sees raw private keys in production; it asks the keystore for
// a Signer bound to an address.
package keystore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

var ErrKeyNotFound = errors.New("keystore: no key for address")

// Keystore creates custodial accounts and produces signers for them.
type Keystore interface {
	// CreateAccount generates a new custodial keypair and returns its address.
	CreateAccount(ctx context.Context) (txbuilder.PublicKey, error)
	// SignerFor returns a signer for an address this keystore custodies.
	SignerFor(ctx context.Context, address txbuilder.PublicKey) (txbuilder.Signer, error)
}

// Memory is an in-process keystore for development and tests. Keys live only
// as long as the process.
type Memory struct {
	mu   sync.RWMutex
	keys map[txbuilder.PublicKey]ed25519.PrivateKey
}

// NewMemory builds an empty in-memory keystore.
func NewMemory() *Memory {
	return &Memory{keys: map[txbuilder.PublicKey]ed25519.PrivateKey{}}
}

// CreateAccount generates and retains a fresh ed25519 keypair.
func (m *Memory) CreateAccount(ctx context.Context) (txbuilder.PublicKey, error) {
	if err := ctx.Err(); err != nil {
		return txbuilder.PublicKey{}, err
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return txbuilder.PublicKey{}, fmt.Errorf("generate custodial key: %w", err)
	}
	var address txbuilder.PublicKey
	copy(address[:], pub)

	m.mu.Lock()
	m.keys[address] = priv
	m.mu.Unlock()
	return address, nil
}

// Import registers an existing private key. Test and bootstrap hook.
func (m *Memory) Import(priv ed25519.PrivateKey) (txbuilder.PublicKey, error) {
	signer, err := txbuilder.NewLocalSigner(priv)
	if err != nil {
		return txbuilder.PublicKey{}, err
	}
	m.mu.Lock()
	m.keys[signer.PublicKey()] = priv
	m.mu.Unlock()
	return signer.PublicKey(), nil
}

// SignerFor returns a signer over the retained key for address.
func (m *Memory) SignerFor(ctx context.Context, address txbuilder.PublicKey) (txbuilder.Signer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	priv, ok := m.keys[address]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, address)
	}
	return txbuilder.NewLocalSigner(priv)
}
