// Package cosigner implements the custodial counter-signer: the second,
// policy-enforcing signature every transaction needs. The policy works only
// from facts re-derived out of the raw transaction bytes; client-declared
// metadata is checked against those facts, never trusted.
package cosigner

import (
	"fmt"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

// Envelope is what a client sends for counter-signing: the partially signed
// payload plus what the client claims it does.
type Envelope struct {
	Payload           []byte `json:"payload"`
	DeclaredAmount    int64  `json:"declared_amount"`
	DeclaredRecipient string `json:"declared_recipient"`
	DeclaredToken     string `json:"declared_token"`
	DeclaredNetwork   string `json:"declared_network"`
}

// Policy is the spending policy the co-signer enforces before signing.
type Policy struct {
	Network      string
	MaxAmount    int64
	AllowedMints map[txbuilder.PublicKey]string
	FeeAccount   txbuilder.PublicKey
	MaxFee       int64
}

// NewPolicy builds a policy for the active deployment network over the token
// allow-list.
func NewPolicy(network string, maxAmount int64, fee *txbuilder.FeePolicy) (Policy, error) {
	p := Policy{
		Network:      network,
		MaxAmount:    maxAmount,
		AllowedMints: map[txbuilder.PublicKey]string{},
	}
	for _, symbol := range []string{"USDC", "SOL"} {
		token, ok := domain.LookupToken(symbol)
		if !ok {
			continue
		}
		mint, err := txbuilder.ParseAddress(token.Mint)
		if err != nil {
			return Policy{}, fmt.Errorf("parse mint for %s: %w", symbol, err)
		}
		p.AllowedMints[mint] = symbol
	}
	if fee != nil {
		p.FeeAccount = fee.Account
		p.MaxFee = fee.BaseUnits
	}
	return p, nil
}

func reject(reason string) error {
	return domain.NewFault(domain.KindCoSignerPolicyRejected, "cosigner.Check", reason)
}

// Check validates the decoded transaction against the declared metadata and
// the spending policy. Every divergence between bytes and declaration is a
// rejection; the reasons are surfaced verbatim to the caller.
func (p Policy) Check(env Envelope, d *txbuilder.Decoded) error {
	if env.DeclaredNetwork != p.Network {
		return reject(fmt.Sprintf("network mismatch: declared %q, co-signer serves %q", env.DeclaredNetwork, p.Network))
	}

	symbol, ok := p.AllowedMints[d.Primary.Mint]
	if !ok {
		return reject(fmt.Sprintf("token mint %s is not allow-listed", d.Primary.Mint))
	}
	if symbol != env.DeclaredToken {
		return reject(fmt.Sprintf("token mismatch: declared %s, transaction moves %s", env.DeclaredToken, symbol))
	}

	if int64(d.Primary.Amount) != env.DeclaredAmount {
		return reject(fmt.Sprintf("amount mismatch: declared %d, transaction encodes %d", env.DeclaredAmount, d.Primary.Amount))
	}
	if env.DeclaredAmount <= 0 || int64(d.Primary.Amount) <= 0 {
		return reject("non-positive transfer amount")
	}
	if int64(d.Primary.Amount) > p.MaxAmount {
		return reject(fmt.Sprintf("amount %d exceeds policy limit %d", d.Primary.Amount, p.MaxAmount))
	}

	if d.Primary.Dest.String() != env.DeclaredRecipient {
		return reject(fmt.Sprintf("recipient mismatch: declared %s, transaction pays %s", env.DeclaredRecipient, d.Primary.Dest))
	}

	if d.Fee != nil {
		if p.FeeAccount.IsZero() {
			return reject("transaction carries a fee transfer but no fee policy is active")
		}
		if d.Fee.Dest != p.FeeAccount {
			return reject(fmt.Sprintf("fee transfer pays %s, expected company fee account", d.Fee.Dest))
		}
		if int64(d.Fee.Amount) > p.MaxFee {
			return reject(fmt.Sprintf("fee amount %d exceeds policy fee %d", d.Fee.Amount, p.MaxFee))
		}
	}

	return nil
}
