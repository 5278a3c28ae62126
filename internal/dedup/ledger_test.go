package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/models"
)

func baseRequest() models.TransactionRequest {
	return models.TransactionRequest{
		Sender:      "aa11",
		Recipient:   "bb22",
		Amount:      25_000_000,
		Token:       "USDC",
		Context:     domain.ContextFairContribution,
		ClientNonce: "nonce-1",
	}
}

func TestKeyDeterministicWithinBucket(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	later := at.Add(4 * time.Minute) // same 10-minute bucket

	assert.Equal(t, Key(baseRequest(), at), Key(baseRequest(), later))
}

func TestKeyChangesAcrossBuckets(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	nextBucket := at.Add(TimeBucket)

	assert.NotEqual(t, Key(baseRequest(), at), Key(baseRequest(), nextBucket))
}

func TestKeySensitiveToEveryField(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := Key(baseRequest(), at)

	mutations := []func(*models.TransactionRequest){
		func(r *models.TransactionRequest) { r.Sender = "cc33" },
		func(r *models.TransactionRequest) { r.Recipient = "dd44" },
		func(r *models.TransactionRequest) { r.Amount = 1 },
		func(r *models.TransactionRequest) { r.Token = "SOL" },
		func(r *models.TransactionRequest) { r.Context = domain.ContextDegenLock },
		func(r *models.TransactionRequest) { r.ClientNonce = "nonce-2" },
	}
	for i, mutate := range mutations {
		req := baseRequest()
		mutate(&req)
		assert.NotEqual(t, base, Key(req, at), "mutation %d did not change the key", i)
	}
}

func TestRouletteKeyShape(t *testing.T) {
	assert.Equal(t, "roulette:abc", RouletteKey("abc"))
}
