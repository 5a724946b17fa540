// Package signature recovers signer addresses from 65-byte ECDSA signatures
// over Ethereum personal-sign messages. It knows nothing about claims; the
// message bytes are built by the caller.
package signature

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const (
	// Length is the expected length of an ECDSA signature (r||s||v).
	Length = 65
	// recoveryIDIndex is the byte position of the recovery id (v).
	recoveryIDIndex = 64

	personalSignPrefix = "\x19Ethereum Signed Message:\n"
)

var ErrInvalidSignature = errors.New("invalid signature")

// RecoverAddress returns the address whose key produced sig over message.
// The message is hashed with Keccak-256 before recovery. A malformed
// signature (wrong length, invalid recovery id) yields ErrInvalidSignature.
func RecoverAddress(sig []byte, message []byte) (common.Address, error) {
	if len(sig) != Length {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "expected %d bytes, got %d", Length, len(sig))
	}

	digest := crypto.Keccak256(message)
	pubKey, err := crypto.SigToPub(digest, normalizeSignature(sig))
	if err != nil {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "recovering public key: %v", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// PersonalMessage wraps a message body in the Ethereum personal-sign
// envelope. The decimal length literal covers the body byte count and must be
// reproduced byte-for-byte for signatures to verify.
func PersonalMessage(body []byte) []byte {
	prefixed := []byte(personalSignPrefix + strconv.Itoa(len(body)))
	return append(prefixed, body...)
}

// normalizeSignature converts the recovery id (v) from Ethereum format
// (27/28) to the raw format (0/1) expected by crypto.SigToPub. Values already
// in raw format are left unchanged.
func normalizeSignature(sig []byte) []byte {
	normalized := make([]byte, Length)
	copy(normalized, sig)

	switch normalized[recoveryIDIndex] {
	case 27:
		normalized[recoveryIDIndex] = 0
	case 28:
		normalized[recoveryIDIndex] = 1
	}

	return normalized
}
