package domain

import "github.com/pkg/errors"

// Failure taxonomy of the attestation engine. Every failure is synchronous
// and caller visible; nothing is retried internally.
var (
	ErrDuplicateCommitment  = errors.New("duplicate commitment")
	ErrCommitmentNotFound   = errors.New("commitment not found")
	ErrUnauthorizedRevealer = errors.New("unauthorized revealer")
	ErrRevealTooEarly       = errors.New("reveal too early")
	ErrRevealTooLate        = errors.New("reveal too late")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrInvalidCommitment    = errors.New("invalid commitment")
	ErrDuplicateSigner      = errors.New("duplicate signer")
	ErrWitnessCountMismatch = errors.New("witness count mismatch")
	ErrWitnessSetMismatch   = errors.New("witness set mismatch")
	ErrNotExpired           = errors.New("commitment not expired")
	ErrNoCurrentEpoch       = errors.New("no current witness epoch")
	ErrInvalidEpoch         = errors.New("invalid witness epoch")
	ErrProofNotFound        = errors.New("proof not found")
)
