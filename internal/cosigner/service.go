package cosigner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

// Client is the counter-signing surface the coordinator consumes. The
// production deployment talks HTTP to a separate co-signer process; the
// in-process Service satisfies the same interface for single-binary setups
// and tests.
type Client interface {
	CounterSign(ctx context.Context, env Envelope) ([]byte, error)
}

// Service validates an envelope against policy and appends the custodial
// counter-signature.
type Service struct {
	policy Policy
	signer txbuilder.Signer
}

// NewService builds the counter-signer over its key and policy.
func NewService(policy Policy, signer txbuilder.Signer) *Service {
	return &Service{policy: policy, signer: signer}
}

// PublicKey exposes the counter-signer key builders must declare as the
// second signer.
func (s *Service) PublicKey() txbuilder.PublicKey {
	return s.signer.PublicKey()
}

// CounterSign parses the raw payload, re-derives what it actually does,
// checks it against the declared metadata and policy, and only then signs.
func (s *Service) CounterSign(ctx context.Context, env Envelope) ([]byte, error) {
	const op = "cosigner.CounterSign"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decoded, err := txbuilder.DecodeAndValidate(env.Payload)
	if err != nil {
		return nil, domain.NewFault(domain.KindCoSignerPolicyRejected, op, fmt.Sprintf("malformed transaction: %v", err))
	}
	tx := decoded.Tx

	idx := tx.Message.SignerIndex(s.signer.PublicKey())
	if idx < 0 {
		return nil, domain.NewFault(domain.KindCoSignerPolicyRejected, op, "co-signer key is not a declared signer")
	}

	// The user must have signed already, and the signature must verify over
	// the exact bytes we are about to co-sign.
	userSigned := false
	for i, sig := range tx.Signatures {
		if i == idx || sig.IsZero() {
			continue
		}
		userSigned = true
	}
	if !userSigned {
		return nil, domain.NewFault(domain.KindCoSignerPolicyRejected, op, "payload carries no user signature")
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, domain.NewFault(domain.KindCoSignerPolicyRejected, op, fmt.Sprintf("user signature invalid: %v", err))
	}

	if err := s.policy.Check(env, decoded); err != nil {
		zap.L().Warn("co-signer rejected envelope",
			zap.String("declared_recipient", env.DeclaredRecipient),
			zap.Int64("declared_amount", env.DeclaredAmount),
			zap.Error(err),
		)
		return nil, err
	}

	if err := tx.Sign(s.signer); err != nil {
		return nil, domain.WrapFault(domain.KindInternal, op, err)
	}
	signed, err := tx.Serialize()
	if err != nil {
		return nil, domain.WrapFault(domain.KindInternal, op, err)
	}
	return signed, nil
}
