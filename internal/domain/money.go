package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Token describes an allow-listed settlement asset. Amounts move through the
// engine as int64 base units (10^-Decimals of one whole token).
type Token struct {
	Symbol   string
	Decimals int32
	Mint     string
}

// allowedTokens is the closed allow-list. Anything else fails request
// validation and co-signer policy alike.
var allowedTokens = map[string]Token{
	"USDC": {Symbol: "USDC", Decimals: 6, Mint: "c6fa7af3bedbad3a3d65f36aabc97431b1bbe4c2d2f6e0e47ca60203452f5d61"},
	"SOL":  {Symbol: "SOL", Decimals: 9, Mint: "069b8857feab8184fb687f634618c035dac439dc1aeb3b5598a0f00000000001"},
}

// LookupToken resolves a token symbol against the allow-list.
func LookupToken(symbol string) (Token, bool) {
	t, ok := allowedTokens[symbol]
	return t, ok
}

// Money is an amount of a specific token in base units.
type Money struct {
	Amount int64
	Token  Token
}

// NewMoney builds a Money value from base units.
func NewMoney(amount int64, token Token) Money {
	return Money{Amount: amount, Token: token}
}

// ParseAmount converts a human decimal string ("25.00") into base units of the
// given token, rejecting values that lose precision.
func ParseAmount(s, symbol string) (Money, error) {
	token, ok := LookupToken(symbol)
	if !ok {
		return Money{}, fmt.Errorf("unsupported token %q", symbol)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	scaled := d.Shift(token.Decimals)
	if !scaled.IsInteger() {
		return Money{}, fmt.Errorf("amount %s exceeds %s precision (%d decimals)", s, symbol, token.Decimals)
	}
	return Money{Amount: scaled.IntPart(), Token: token}, nil
}

// ToDecimal renders the base-unit amount as a whole-token decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Shift(-m.Token.Decimals)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(m.Token.Decimals), m.Token.Symbol)
}
