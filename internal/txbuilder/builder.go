package txbuilder

import (
	"fmt"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/models"
)

// FeePolicy adds a flat company fee as a secondary transfer instruction.
type FeePolicy struct {
	Account   PublicKey
	BaseUnits int64
}

// Builder assembles unsigned transactions in the fixed instruction order the
// co-signer's policy checks assume:
//
//	1. compute budget directive
//	2. destination account creation, only when the recipient lacks one
//	3. primary value transfer
//	4. company fee transfer, when a fee policy is set
//	5. memo, when the request carries one
type Builder struct {
	cosigner          PublicKey
	fee               *FeePolicy
	computeUnitLimit  uint32
	priorityFeeMicros uint64
}

// BuildInput carries the per-build facts the coordinator resolved: the
// freshness token and whether the recipient's receiving account exists.
type BuildInput struct {
	Recent                 Blockhash
	CreateRecipientAccount bool
}

// NewBuilder constructs a Builder. The co-signer key becomes the second
// declared signer on every transaction.
func NewBuilder(cosigner PublicKey, fee *FeePolicy, computeUnitLimit uint32, priorityFeeMicros uint64) *Builder {
	if computeUnitLimit == 0 {
		computeUnitLimit = 200_000
	}
	return &Builder{
		cosigner:          cosigner,
		fee:               fee,
		computeUnitLimit:  computeUnitLimit,
		priorityFeeMicros: priorityFeeMicros,
	}
}

// Build assembles the unsigned transaction for req bound to the supplied
// freshness token.
func (b *Builder) Build(req models.TransactionRequest, in BuildInput) (*Transaction, error) {
	const op = "txbuilder.Build"

	if req.Amount <= 0 {
		return nil, domain.NewFault(domain.KindInvalidRequest, op, fmt.Sprintf("invalid amount %d", req.Amount))
	}
	token, ok := domain.LookupToken(req.Token)
	if !ok {
		return nil, domain.NewFault(domain.KindInvalidRequest, op, fmt.Sprintf("unsupported currency %q", req.Token))
	}
	if in.Recent.IsZero() {
		return nil, domain.NewFault(domain.KindInvalidRequest, op, "missing freshness token")
	}
	if err := req.Context.Validate(); err != nil {
		return nil, domain.WrapFault(domain.KindInvalidRequest, op, err)
	}

	sender, err := ParseAddress(req.Sender)
	if err != nil {
		return nil, domain.WrapFault(domain.KindInvalidRequest, op, err)
	}
	recipient, err := ParseAddress(req.Recipient)
	if err != nil {
		return nil, domain.WrapFault(domain.KindInvalidRequest, op, err)
	}
	mint, err := ParseAddress(token.Mint)
	if err != nil {
		return nil, domain.WrapFault(domain.KindInternal, op, err)
	}

	instructions := []Instruction{
		ComputeBudgetInstruction(b.computeUnitLimit, b.priorityFeeMicros),
	}
	if in.CreateRecipientAccount {
		instructions = append(instructions, CreateTokenAccountInstruction(sender, recipient, mint))
	}
	instructions = append(instructions, TransferInstruction(sender, recipient, mint, uint64(req.Amount)))
	if b.fee != nil && b.fee.BaseUnits > 0 {
		instructions = append(instructions, TransferInstruction(sender, b.fee.Account, mint, uint64(b.fee.BaseUnits)))
	}
	if req.Memo != "" {
		instructions = append(instructions, MemoInstruction(req.Memo))
	}

	msg := Message{
		Signers:  []PublicKey{sender, b.cosigner},
		Recent:   in.Recent,
		Itemized: instructions,
	}
	return &Transaction{
		Signatures: make([]Signature, len(msg.Signers)),
		Message:    msg,
	}, nil
}
