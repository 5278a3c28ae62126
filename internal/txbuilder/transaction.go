package txbuilder

import (
	"bytes"
	"fmt"
	"io"
)

const messageVersion = 1

// Message is the signed portion of a transaction: the ordered signer set, the
// freshness token it is bound to, and the instruction sequence.
type Message struct {
	Signers  []PublicKey
	Recent   Blockhash
	Itemized []Instruction
}

// Transaction pairs a message with one signature slot per signer. Slots fill
// in as the user and then the co-signer sign; a zero slot means unsigned.
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// Serialize renders the message into the canonical bytes signatures are
// computed over.
func (m *Message) Serialize() ([]byte, error) {
	if len(m.Signers) == 0 || len(m.Signers) > 255 {
		return nil, fmt.Errorf("message must carry 1-255 signers, got %d", len(m.Signers))
	}
	if len(m.Itemized) == 0 || len(m.Itemized) > 255 {
		return nil, fmt.Errorf("message must carry 1-255 instructions, got %d", len(m.Itemized))
	}

	var buf bytes.Buffer
	buf.WriteByte(messageVersion)
	buf.WriteByte(byte(len(m.Signers)))
	for _, s := range m.Signers {
		buf.Write(s[:])
	}
	buf.Write(m.Recent[:])
	buf.WriteByte(byte(len(m.Itemized)))
	for _, in := range m.Itemized {
		if err := in.encode(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func deserializeMessage(r *bytes.Reader) (Message, error) {
	var m Message
	version, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("read version: %w", err)
	}
	if version != messageVersion {
		return m, fmt.Errorf("unsupported message version %d", version)
	}

	numSigners, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("read signer count: %w", err)
	}
	if numSigners == 0 {
		return m, fmt.Errorf("message carries no signers")
	}
	m.Signers = make([]PublicKey, numSigners)
	for i := range m.Signers {
		if _, err := io.ReadFull(r, m.Signers[i][:]); err != nil {
			return m, fmt.Errorf("read signer %d: %w", i, err)
		}
	}

	if _, err := io.ReadFull(r, m.Recent[:]); err != nil {
		return m, fmt.Errorf("read blockhash: %w", err)
	}

	numInstructions, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("read instruction count: %w", err)
	}
	m.Itemized = make([]Instruction, numInstructions)
	for i := range m.Itemized {
		m.Itemized[i], err = decodeInstruction(r)
		if err != nil {
			return m, fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return m, nil
}

// SignerIndex returns the slot of pub in the signer set, or -1.
func (m *Message) SignerIndex(pub PublicKey) int {
	for i, s := range m.Signers {
		if s == pub {
			return i
		}
	}
	return -1
}

// Sign computes signer's signature over the message and stores it in the
// matching slot.
func (t *Transaction) Sign(signer Signer) error {
	idx := t.Message.SignerIndex(signer.PublicKey())
	if idx < 0 {
		return fmt.Errorf("key %s is not a declared signer", signer.PublicKey())
	}
	msg, err := t.Message.Serialize()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}
	t.Signatures[idx] = sig
	return nil
}

// FullySigned reports whether every signature slot is populated.
func (t *Transaction) FullySigned() bool {
	for _, sig := range t.Signatures {
		if sig.IsZero() {
			return false
		}
	}
	return len(t.Signatures) > 0
}

// VerifySignatures checks every populated slot against its signer key.
func (t *Transaction) VerifySignatures() error {
	msg, err := t.Message.Serialize()
	if err != nil {
		return err
	}
	for i, sig := range t.Signatures {
		if sig.IsZero() {
			continue
		}
		if !Verify(t.Message.Signers[i], msg, sig) {
			return fmt.Errorf("signature %d does not verify for signer %s", i, t.Message.Signers[i])
		}
	}
	return nil
}

// Serialize renders the full transaction (signature slots + message).
func (t *Transaction) Serialize() ([]byte, error) {
	if len(t.Signatures) != len(t.Message.Signers) {
		return nil, fmt.Errorf("signature slots (%d) must match signers (%d)", len(t.Signatures), len(t.Message.Signers))
	}
	msg, err := t.Message.Serialize()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(len(t.Signatures)))
	for _, sig := range t.Signatures {
		buf.Write(sig[:])
	}
	buf.Write(msg)
	return buf.Bytes(), nil
}

// Deserialize parses a serialized transaction back into its parts.
func Deserialize(raw []byte) (*Transaction, error) {
	r := bytes.NewReader(raw)
	numSigs, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read signature count: %w", err)
	}
	t := &Transaction{Signatures: make([]Signature, numSigs)}
	for i := range t.Signatures {
		if _, err := io.ReadFull(r, t.Signatures[i][:]); err != nil {
			return nil, fmt.Errorf("read signature %d: %w", i, err)
		}
	}
	t.Message, err = deserializeMessage(r)
	if err != nil {
		return nil, err
	}
	if len(t.Signatures) != len(t.Message.Signers) {
		return nil, fmt.Errorf("signature slots (%d) do not match signers (%d)", len(t.Signatures), len(t.Message.Signers))
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction", r.Len())
	}
	return t, nil
}
