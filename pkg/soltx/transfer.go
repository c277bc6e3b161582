// Package soltx serializes legacy Solana transactions for the single case
// the assistant needs: a system-program SOL transfer with one signer.
package soltx

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	publicKeyLen = 32
	signatureLen = 64

	// System program transfer instruction index.
	transferInstruction = 2
)

var ErrInvalidAddress = errors.New("invalid solana address")

// systemProgramID is the all-zero public key of the system program.
var systemProgramID [publicKeyLen]byte

// DecodeAddress decodes a base58 address and checks it is a 32-byte key.
func DecodeAddress(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	if len(raw) != publicKeyLen {
		return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(raw))
	}
	return raw, nil
}

// BuildTransfer serializes an unsigned transfer of lamports from sender to
// recipient, anchored at blockhash. The signature slot is zero-filled; the
// wallet provider replaces it when signing.
func BuildTransfer(sender, recipient, blockhash string, lamports uint64) ([]byte, error) {
	from, err := DecodeAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	to, err := DecodeAddress(recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	anchor, err := base58.Decode(blockhash)
	if err != nil || len(anchor) != publicKeyLen {
		return nil, errors.New("invalid blockhash")
	}
	if lamports == 0 {
		return nil, errors.New("lamports must be positive")
	}

	// Message: header, account keys [from, to, system program], blockhash,
	// single transfer instruction.
	var msg []byte
	msg = append(msg, 1, 0, 1) // 1 signer, 0 readonly signed, 1 readonly unsigned
	msg = appendCompactU16(msg, 3)
	msg = append(msg, from...)
	msg = append(msg, to...)
	msg = append(msg, systemProgramID[:]...)
	msg = append(msg, anchor...)

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], transferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	msg = appendCompactU16(msg, 1)
	msg = append(msg, 2) // program id index
	msg = appendCompactU16(msg, 2)
	msg = append(msg, 0, 1) // account indexes: from, to
	msg = appendCompactU16(msg, len(data))
	msg = append(msg, data...)

	tx := make([]byte, 0, 1+signatureLen+len(msg))
	tx = appendCompactU16(tx, 1)
	tx = append(tx, make([]byte, signatureLen)...)
	tx = append(tx, msg...)
	return tx, nil
}

// appendCompactU16 appends v in the compact-u16 ("shortvec") encoding.
func appendCompactU16(dst []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(dst, byte(v))
		}
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
}
