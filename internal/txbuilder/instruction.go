package txbuilder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Opcode identifies the on-ledger program an instruction targets.
type Opcode uint8

const (
	// OpComputeBudget sets the compute unit limit and priority fee. Always
	// the first instruction.
	OpComputeBudget Opcode = 0x01
	// OpCreateTokenAccount creates the recipient's receiving account for a
	// token mint when it does not exist yet.
	OpCreateTokenAccount Opcode = 0x02
	// OpTransfer moves token base units between two accounts.
	OpTransfer Opcode = 0x03
	// OpMemo attaches an opaque note. Always last when present.
	OpMemo Opcode = 0x04
)

// Instruction is one program invocation: opcode, ordered account keys and an
// opaque little-endian payload.
type Instruction struct {
	Op       Opcode
	Accounts []PublicKey
	Payload  []byte
}

// ComputeBudgetInstruction builds the mandatory leading directive.
func ComputeBudgetInstruction(unitLimit uint32, priorityFeeMicros uint64) Instruction {
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload[0:4], unitLimit)
	binary.LittleEndian.PutUint64(payload[4:12], priorityFeeMicros)
	return Instruction{Op: OpComputeBudget, Payload: payload}
}

// CreateTokenAccountInstruction builds the destination-account creation step.
// The funder pays rent for the new account owned by owner.
func CreateTokenAccountInstruction(funder, owner, mint PublicKey) Instruction {
	return Instruction{
		Op:       OpCreateTokenAccount,
		Accounts: []PublicKey{funder, owner},
		Payload:  append([]byte(nil), mint[:]...),
	}
}

// TransferInstruction moves amount base units of mint from source to dest.
func TransferInstruction(source, dest, mint PublicKey, amount uint64) Instruction {
	payload := make([]byte, 8+32)
	binary.LittleEndian.PutUint64(payload[0:8], amount)
	copy(payload[8:], mint[:])
	return Instruction{
		Op:       OpTransfer,
		Accounts: []PublicKey{source, dest},
		Payload:  payload,
	}
}

// MemoInstruction attaches a UTF-8 note.
func MemoInstruction(memo string) Instruction {
	return Instruction{Op: OpMemo, Payload: []byte(memo)}
}

// TransferDetails are the facts a transfer instruction encodes, re-derived
// from raw bytes by the co-signer rather than trusted from metadata.
type TransferDetails struct {
	Source PublicKey
	Dest   PublicKey
	Mint   PublicKey
	Amount uint64
}

// DecodeTransfer extracts transfer details from an OpTransfer instruction.
func DecodeTransfer(in Instruction) (TransferDetails, error) {
	var d TransferDetails
	if in.Op != OpTransfer {
		return d, fmt.Errorf("not a transfer instruction (opcode 0x%02x)", uint8(in.Op))
	}
	if len(in.Accounts) != 2 {
		return d, fmt.Errorf("transfer expects 2 accounts, got %d", len(in.Accounts))
	}
	if len(in.Payload) != 40 {
		return d, fmt.Errorf("transfer payload must be 40 bytes, got %d", len(in.Payload))
	}
	d.Source = in.Accounts[0]
	d.Dest = in.Accounts[1]
	d.Amount = binary.LittleEndian.Uint64(in.Payload[0:8])
	copy(d.Mint[:], in.Payload[8:40])
	return d, nil
}

func (in Instruction) encode(buf *bytes.Buffer) error {
	if len(in.Accounts) > 255 {
		return fmt.Errorf("instruction has too many accounts: %d", len(in.Accounts))
	}
	if len(in.Payload) > 0xFFFF {
		return fmt.Errorf("instruction payload too large: %d bytes", len(in.Payload))
	}
	buf.WriteByte(byte(in.Op))
	buf.WriteByte(byte(len(in.Accounts)))
	for _, acc := range in.Accounts {
		buf.Write(acc[:])
	}
	var lenBytes [2]byte
	binary.LittleEndian.PutUint16(lenBytes[:], uint16(len(in.Payload)))
	buf.Write(lenBytes[:])
	buf.Write(in.Payload)
	return nil
}

func decodeInstruction(r *bytes.Reader) (Instruction, error) {
	var in Instruction
	op, err := r.ReadByte()
	if err != nil {
		return in, fmt.Errorf("read opcode: %w", err)
	}
	in.Op = Opcode(op)

	numAccounts, err := r.ReadByte()
	if err != nil {
		return in, fmt.Errorf("read account count: %w", err)
	}
	if numAccounts > 0 {
		in.Accounts = make([]PublicKey, numAccounts)
		for i := range in.Accounts {
			if _, err := io.ReadFull(r, in.Accounts[i][:]); err != nil {
				return in, fmt.Errorf("read account %d: %w", i, err)
			}
		}
	}

	var lenBytes [2]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return in, fmt.Errorf("read payload length: %w", err)
	}
	payloadLen := binary.LittleEndian.Uint16(lenBytes[:])
	in.Payload = make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, in.Payload); err != nil {
			return in, fmt.Errorf("read payload: %w", err)
		}
	}
	return in, nil
}
