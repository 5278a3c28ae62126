package keystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

func TestMemoryCreateAndSign(t *testing.T) {
	ks := NewMemory()

	addr, err := ks.CreateAccount(context.Background())
	require.NoError(t, err)
	assert.False(t, addr.IsZero())

	signer, err := ks.SignerFor(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, addr, signer.PublicKey())

	msg := []byte("settle the bill")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	assert.True(t, txbuilder.Verify(addr, msg, sig))
}

func TestMemoryUnknownAddress(t *testing.T) {
	ks := NewMemory()
	var unknown txbuilder.PublicKey
	unknown[0] = 0xAA

	_, err := ks.SignerFor(context.Background(), unknown)
	require.ErrorIs(t, err, ErrKeyNotFound)
}
