package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSharesEven(t *testing.T) {
	shares, err := SplitShares(50_000_000, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{25_000_000, 25_000_000}, shares)
}

func TestSplitSharesRemainderGoesToEarliest(t *testing.T) {
	shares, err := SplitShares(100, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{34, 33, 33}, shares)

	var sum int64
	for _, s := range shares {
		sum += s
	}
	assert.Equal(t, int64(100), sum)
}

func TestSplitSharesAlwaysSumsToTotal(t *testing.T) {
	for _, total := range []int64{1, 7, 99, 1_000_001, 123_456_789} {
		for n := 1; n <= 9; n++ {
			shares, err := SplitShares(total, n)
			require.NoError(t, err)
			var sum int64
			for _, s := range shares {
				sum += s
			}
			assert.Equal(t, total, sum, "total=%d n=%d", total, n)
		}
	}
}

func TestSplitSharesRejectsBadInput(t *testing.T) {
	_, err := SplitShares(0, 2)
	assert.Error(t, err)
	_, err = SplitShares(100, 0)
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	m, err := ParseAmount("25.00", "USDC")
	require.NoError(t, err)
	assert.Equal(t, int64(25_000_000), m.Amount)

	_, err = ParseAmount("1.1234567", "USDC")
	assert.Error(t, err, "more precision than USDC carries")

	_, err = ParseAmount("10", "DOGE")
	assert.Error(t, err, "token not on allow-list")
}

func TestTransferContextValidate(t *testing.T) {
	for _, c := range []TransferContext{ContextDirect, ContextFairContribution, ContextFairPayout, ContextDegenLock, ContextDegenPayout} {
		assert.NoError(t, c.Validate())
	}
	assert.Error(t, TransferContext("refund").Validate())
}
