package txbuilder

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/models"
)

func newTestSigner(t *testing.T) *LocalSigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewLocalSigner(priv)
	require.NoError(t, err)
	return signer
}

func testBlockhash() Blockhash {
	var bh Blockhash
	for i := range bh {
		bh[i] = byte(i + 1)
	}
	return bh
}

func testRequest(sender, recipient PublicKey) models.TransactionRequest {
	return models.TransactionRequest{
		ID:          uuid.New(),
		Sender:      sender.String(),
		Recipient:   recipient.String(),
		Amount:      25_000_000,
		Token:       "USDC",
		Context:     domain.ContextFairContribution,
		ClientNonce: "nonce-1",
	}
}

func TestBuildInstructionOrder(t *testing.T) {
	user := newTestSigner(t)
	cosigner := newTestSigner(t)
	recipient := newTestSigner(t)
	feeAccount := newTestSigner(t)

	b := NewBuilder(cosigner.PublicKey(), &FeePolicy{Account: feeAccount.PublicKey(), BaseUnits: 50_000}, 200_000, 1_000)

	req := testRequest(user.PublicKey(), recipient.PublicKey())
	req.Memo = "dinner"

	tx, err := b.Build(req, BuildInput{Recent: testBlockhash(), CreateRecipientAccount: true})
	require.NoError(t, err)

	ops := make([]Opcode, 0, len(tx.Message.Itemized))
	for _, in := range tx.Message.Itemized {
		ops = append(ops, in.Op)
	}
	assert.Equal(t, []Opcode{OpComputeBudget, OpCreateTokenAccount, OpTransfer, OpTransfer, OpMemo}, ops)
	assert.Equal(t, []PublicKey{user.PublicKey(), cosigner.PublicKey()}, tx.Message.Signers)
	assert.False(t, tx.FullySigned())
}

func TestBuildSkipsOptionalInstructions(t *testing.T) {
	user := newTestSigner(t)
	cosigner := newTestSigner(t)
	recipient := newTestSigner(t)

	b := NewBuilder(cosigner.PublicKey(), nil, 0, 0)
	tx, err := b.Build(testRequest(user.PublicKey(), recipient.PublicKey()), BuildInput{Recent: testBlockhash()})
	require.NoError(t, err)

	require.Len(t, tx.Message.Itemized, 2)
	assert.Equal(t, OpComputeBudget, tx.Message.Itemized[0].Op)
	assert.Equal(t, OpTransfer, tx.Message.Itemized[1].Op)
}

func TestBuildValidation(t *testing.T) {
	user := newTestSigner(t)
	cosigner := newTestSigner(t)
	recipient := newTestSigner(t)
	b := NewBuilder(cosigner.PublicKey(), nil, 0, 0)

	req := testRequest(user.PublicKey(), recipient.PublicKey())
	req.Amount = 0
	_, err := b.Build(req, BuildInput{Recent: testBlockhash()})
	assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))

	req = testRequest(user.PublicKey(), recipient.PublicKey())
	req.Token = "DOGE"
	_, err = b.Build(req, BuildInput{Recent: testBlockhash()})
	assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))

	req = testRequest(user.PublicKey(), recipient.PublicKey())
	_, err = b.Build(req, BuildInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing freshness token")
}

func TestSignSerializeRoundTrip(t *testing.T) {
	user := newTestSigner(t)
	cosigner := newTestSigner(t)
	recipient := newTestSigner(t)

	b := NewBuilder(cosigner.PublicKey(), nil, 0, 0)
	req := testRequest(user.PublicKey(), recipient.PublicKey())
	req.Memo = "taxi"

	tx, err := b.Build(req, BuildInput{Recent: testBlockhash()})
	require.NoError(t, err)

	require.NoError(t, tx.Sign(user))
	assert.False(t, tx.FullySigned(), "co-signer slot still empty")
	require.NoError(t, tx.Sign(cosigner))
	assert.True(t, tx.FullySigned())
	require.NoError(t, tx.VerifySignatures())

	raw, err := tx.Serialize()
	require.NoError(t, err)

	parsed, err := Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Message, parsed.Message)
	assert.Equal(t, tx.Signatures, parsed.Signatures)
	require.NoError(t, parsed.VerifySignatures())
}

func TestDecodeAndValidateRederivesTransfer(t *testing.T) {
	user := newTestSigner(t)
	cosigner := newTestSigner(t)
	recipient := newTestSigner(t)
	feeAccount := newTestSigner(t)

	b := NewBuilder(cosigner.PublicKey(), &FeePolicy{Account: feeAccount.PublicKey(), BaseUnits: 50_000}, 0, 0)
	req := testRequest(user.PublicKey(), recipient.PublicKey())

	tx, err := b.Build(req, BuildInput{Recent: testBlockhash(), CreateRecipientAccount: true})
	require.NoError(t, err)
	raw, err := tx.Serialize()
	require.NoError(t, err)

	d, err := DecodeAndValidate(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(25_000_000), d.Primary.Amount)
	assert.Equal(t, recipient.PublicKey(), d.Primary.Dest)
	assert.Equal(t, user.PublicKey(), d.Primary.Source)
	require.NotNil(t, d.Fee)
	assert.Equal(t, uint64(50_000), d.Fee.Amount)
	require.NotNil(t, d.Creation)
	assert.Equal(t, recipient.PublicKey(), *d.Creation)
}

func TestDecodeAndValidateRejectsBadOrder(t *testing.T) {
	user := newTestSigner(t)
	cosigner := newTestSigner(t)
	recipient := newTestSigner(t)

	b := NewBuilder(cosigner.PublicKey(), nil, 0, 0)
	tx, err := b.Build(testRequest(user.PublicKey(), recipient.PublicKey()), BuildInput{Recent: testBlockhash()})
	require.NoError(t, err)

	// Swap the compute budget and transfer: the ordering contract is broken.
	tx.Message.Itemized[0], tx.Message.Itemized[1] = tx.Message.Itemized[1], tx.Message.Itemized[0]
	raw, err := tx.Serialize()
	require.NoError(t, err)

	_, err = DecodeAndValidate(raw)
	assert.Error(t, err)
}

func TestDecodeAndValidateRejectsCreationOwnerMismatch(t *testing.T) {
	user := newTestSigner(t)
	cosigner := newTestSigner(t)
	recipient := newTestSigner(t)
	other := newTestSigner(t)

	b := NewBuilder(cosigner.PublicKey(), nil, 0, 0)
	tx, err := b.Build(testRequest(user.PublicKey(), recipient.PublicKey()), BuildInput{Recent: testBlockhash()})
	require.NoError(t, err)

	creation := CreateTokenAccountInstruction(user.PublicKey(), other.PublicKey(), PublicKey{})
	tx.Message.Itemized = []Instruction{tx.Message.Itemized[0], creation, tx.Message.Itemized[1]}
	raw, err := tx.Serialize()
	require.NoError(t, err)

	_, err = DecodeAndValidate(raw)
	assert.Error(t, err)
}
