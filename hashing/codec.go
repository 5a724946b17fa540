// Package hashing provides the canonical binary encoding of claim structures
// and the single Keccak-256 hash function used everywhere in the service.
// Every field is length-prefixed so that two structurally different inputs
// never serialize to the same bytes. Changing the encoding requires bumping
// the version byte.
package hashing

import (
	"encoding/binary"

	"github.com/attesto/attestation-service/entities"
	"github.com/ethereum/go-ethereum/crypto"
)

const codecVersion = byte(0x01)

// length of the "0x" prefix dropped from the human readable identifier
// before hashing
const identifierPrefixLen = 2

// Keccak256 hashes the concatenation of the given byte slices.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// EncodeClaimInfo serializes a ClaimInfo to its canonical byte form.
func EncodeClaimInfo(info entities.ClaimInfo) []byte {
	out := []byte{codecVersion}
	out = appendString(out, info.Provider)
	out = appendString(out, info.Parameters)
	out = appendString(out, info.Context)
	return out
}

// EncodeClaimData serializes a ClaimData to its canonical byte form.
func EncodeClaimData(claim entities.ClaimData) []byte {
	out := []byte{codecVersion}
	out = appendString(out, claim.Identifier)
	out = appendString(out, claim.Owner)
	out = appendString(out, claim.Epoch)
	out = appendString(out, claim.TimestampS)
	return out
}

// EncodeSignedClaim serializes a SignedClaim: the encoded claim followed by
// the count-prefixed list of signatures.
func EncodeSignedClaim(signed entities.SignedClaim) []byte {
	out := EncodeClaimData(signed.Claim)
	out = binary.BigEndian.AppendUint32(out, uint32(len(signed.Signatures)))
	for _, sig := range signed.Signatures {
		out = appendBytes(out, sig)
	}
	return out
}

// CommitmentHash computes the hash a committer must publish in order to later
// reveal (info, signed, nonce).
func CommitmentHash(info entities.ClaimInfo, signed entities.SignedClaim, nonce []byte) []byte {
	return Keccak256(EncodeClaimInfo(info), EncodeSignedClaim(signed), nonce)
}

// IdentifierHash hashes the utf8 bytes of the claim identifier with its
// two-character "0x" prefix removed. The removal is positional, not
// conditional: the first two bytes are always dropped. It keys the
// commitment registry.
func IdentifierHash(identifier string) []byte {
	if len(identifier) < identifierPrefixLen {
		return Keccak256(nil)
	}
	return Keccak256([]byte(identifier[identifierPrefixLen:]))
}

// SelectionSeed hashes the full identifier text. It seeds the deterministic
// witness-subset selection, so provers and verifiers derive the same subset
// from public data alone.
func SelectionSeed(identifier string) []byte {
	return Keccak256([]byte(identifier))
}

func appendString(out []byte, s string) []byte {
	return appendBytes(out, []byte(s))
}

func appendBytes(out []byte, b []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(b)))
	return append(out, b...)
}
