package solana

import (
	"bytes"
)

func (t Transaction) Marshal() []byte {
	b := bytes.NewBuffer(nil)

	// Signatures
	_, _ = encodeLen(b, len(t.Signatures))
	for _, s := range t.Signatures {
		_, _ = b.Write(s[:])
	}

	// Message
	_, _ = b.Write(t.Message.Marshal())

	return b.Bytes()
}

// Marshal encodes the message in the legacy wire format, which is also the
// payload every signer signs.
func (m Message) Marshal() []byte {
	b := bytes.NewBuffer(nil)

	// Header
	_ = b.WriteByte(m.Header.NumSignatures)
	_ = b.WriteByte(m.Header.NumReadonlySigned)
	_ = b.WriteByte(m.Header.NumReadOnly)

	// Accounts
	_, _ = encodeLen(b, len(m.Accounts))
	for _, a := range m.Accounts {
		_, _ = b.Write(a)
	}

	// Recent Blockhash
	_, _ = b.Write(m.RecentBlockhash[:])

	// Instructions
	_, _ = encodeLen(b, len(m.Instructions))
	for _, i := range m.Instructions {
		_ = b.WriteByte(i.ProgramIndex)

		_, _ = encodeLen(b, len(i.Accounts))
		_, _ = b.Write(i.Accounts)

		_, _ = encodeLen(b, len(i.Data))
		_, _ = b.Write(i.Data)
	}

	return b.Bytes()
}

// encodeLen writes len as a compact-u16 ("shortvec"): seven bits per byte,
// least significant group first, with the high bit flagging continuation.
func encodeLen(b *bytes.Buffer, len int) (int, error) {
	written := 0
	for {
		v := byte(len & 0x7f)
		len >>= 7
		if len == 0 {
			return written + 1, b.WriteByte(v)
		}

		if err := b.WriteByte(v | 0x80); err != nil {
			return written, err
		}
		written++
	}
}
