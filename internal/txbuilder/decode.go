package txbuilder

import "fmt"

// Decoded is the structural view of a raw transaction the co-signer works
// from. Everything here is re-derived from bytes; nothing comes from
// client-declared metadata.
type Decoded struct {
	Tx       *Transaction
	Primary  TransferDetails
	Fee      *TransferDetails
	HasMemo  bool
	Creation *PublicKey // recipient of the account-creation step, if present
}

// DecodeAndValidate parses raw transaction bytes and enforces the instruction
// ordering contract. Any deviation fails: downstream policy checks depend on
// the order being exact.
func DecodeAndValidate(raw []byte) (*Decoded, error) {
	tx, err := Deserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("deserialize transaction: %w", err)
	}

	ins := tx.Message.Itemized
	if len(ins) < 2 {
		return nil, fmt.Errorf("transaction carries %d instructions, need at least 2", len(ins))
	}
	if ins[0].Op != OpComputeBudget {
		return nil, fmt.Errorf("instruction 0 must be the compute budget directive, got 0x%02x", uint8(ins[0].Op))
	}

	d := &Decoded{Tx: tx}
	i := 1

	if ins[i].Op == OpCreateTokenAccount {
		if len(ins[i].Accounts) != 2 {
			return nil, fmt.Errorf("account creation expects 2 accounts, got %d", len(ins[i].Accounts))
		}
		owner := ins[i].Accounts[1]
		d.Creation = &owner
		i++
	}

	if i >= len(ins) || ins[i].Op != OpTransfer {
		return nil, fmt.Errorf("missing primary transfer instruction")
	}
	d.Primary, err = DecodeTransfer(ins[i])
	if err != nil {
		return nil, fmt.Errorf("primary transfer: %w", err)
	}
	i++

	if i < len(ins) && ins[i].Op == OpTransfer {
		fee, err := DecodeTransfer(ins[i])
		if err != nil {
			return nil, fmt.Errorf("fee transfer: %w", err)
		}
		d.Fee = &fee
		i++
	}

	if i < len(ins) {
		if ins[i].Op != OpMemo {
			return nil, fmt.Errorf("unexpected instruction 0x%02x at position %d", uint8(ins[i].Op), i)
		}
		d.HasMemo = true
		i++
	}

	if i != len(ins) {
		return nil, fmt.Errorf("trailing instructions after memo")
	}

	// The account-creation step must target the transfer recipient; anything
	// else smells like a crafted transaction.
	if d.Creation != nil && *d.Creation != d.Primary.Dest {
		return nil, fmt.Errorf("account creation owner %s does not match transfer recipient %s", d.Creation, d.Primary.Dest)
	}

	return d, nil
}
