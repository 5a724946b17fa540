package domain

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/attesto/attestation-service/entities"
	"github.com/attesto/attestation-service/hashing"
	"github.com/attesto/attestation-service/signature"
	"github.com/attesto/attestation-service/witness"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type proofStore interface {
	NextProofID() (uint64, error)
	SetProof(proof entities.Proof) error
	GetProof(id uint64) (entities.Proof, error)
}

// ProofSink receives every issued proof. Sinks are observers: a publish
// failure is logged and counted but never fails the reveal that already
// persisted the proof.
type ProofSink interface {
	PublishProof(ctx context.Context, proof entities.Proof) error
}

type engineMetrics interface {
	IncCommitments()
	IncRevealsSucceeded()
	IncRevealsFailed(reason string)
	AddExpiredCommitments(count int)
	IncProofPublishErrors()
}

type Config struct {
	// MinRevealDelay is the minimum commit-to-reveal delay. Zero disables
	// the early check.
	MinRevealDelay time.Duration
	// MaxRevealWindow is how long after the minimum delay a reveal stays
	// valid. The boundary is inclusive; the same cutoff is the expiry age.
	MaxRevealWindow time.Duration
}

// Engine orchestrates the commit-reveal attestation protocol: commitment
// storage, timing enforcement, witness subset derivation, quorum
// verification and proof issuance. All timestamps are caller supplied epoch
// milliseconds; the engine never reads the wall clock.
type Engine struct {
	ledger  *Ledger
	epochs  *EpochManager
	proofs  proofStore
	sinks   []ProofSink
	cfg     Config
	metrics engineMetrics
	logger  *zap.SugaredLogger
}

func NewEngine(
	ledger *Ledger,
	epochs *EpochManager,
	proofs proofStore,
	sinks []ProofSink,
	cfg Config,
	metrics engineMetrics,
	logger *zap.SugaredLogger,
) *Engine {
	return &Engine{
		ledger:  ledger,
		epochs:  epochs,
		proofs:  proofs,
		sinks:   sinks,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Commit registers a commitment hash for a claim identifier. No further
// logic beyond the ledger's dedup check.
func (e *Engine) Commit(commitmentHash, identifierHash []byte, committer common.Address, nowMs int64) (uint64, error) {
	id, err := e.ledger.Commit(commitmentHash, identifierHash, committer, nowMs)
	if err != nil {
		return 0, err
	}
	e.metrics.IncCommitments()
	e.logger.Infow("Commitment accepted", "id", id, "committer", committer.Hex())
	return id, nil
}

// Reveal consumes the commitment, verifies timing, binding and witness
// quorum, and on success persists a proof owned by the committer. The
// commitment is consumed as soon as the reveal is attempted, so any failure
// after step one forfeits it and the caller must re-commit.
func (e *Engine) Reveal(
	ctx context.Context,
	commitmentID uint64,
	caller common.Address,
	info entities.ClaimInfo,
	signed entities.SignedClaim,
	nonce []byte,
	nowMs int64,
) ([]common.Address, uint64, error) {
	signers, proofID, err := e.reveal(ctx, commitmentID, caller, info, signed, nonce, nowMs)
	if err != nil {
		e.metrics.IncRevealsFailed(failureReason(err))
		return nil, 0, err
	}
	e.metrics.IncRevealsSucceeded()
	return signers, proofID, nil
}

func (e *Engine) reveal(
	ctx context.Context,
	commitmentID uint64,
	caller common.Address,
	info entities.ClaimInfo,
	signed entities.SignedClaim,
	nonce []byte,
	nowMs int64,
) ([]common.Address, uint64, error) {
	commitment, err := e.ledger.TakeForReveal(commitmentID, caller)
	if err != nil {
		return nil, 0, err
	}

	elapsed := nowMs - commitment.CommitTimestampMs
	if elapsed < e.cfg.MinRevealDelay.Milliseconds() {
		return nil, 0, errors.Wrapf(ErrRevealTooEarly, "elapsed %dms, minimum delay %dms", elapsed, e.cfg.MinRevealDelay.Milliseconds())
	}
	if elapsed > e.revealDeadlineMs() {
		return nil, 0, errors.Wrapf(ErrRevealTooLate, "elapsed %dms, deadline %dms", elapsed, e.revealDeadlineMs())
	}

	// binding step of the commit-reveal scheme: the revealed data and nonce
	// must reproduce the committed hash byte for byte
	reconstructed := hashing.CommitmentHash(info, signed, nonce)
	if !bytes.Equal(reconstructed, commitment.CommitmentHash) {
		return nil, 0, errors.Wrap(ErrInvalidNonce, "revealed data does not reproduce the commitment hash")
	}

	identifierHash := hashing.IdentifierHash(signed.Claim.Identifier)
	if !bytes.Equal(identifierHash, commitment.IdentifierHash) {
		return nil, 0, errors.Wrap(ErrInvalidCommitment, "claim identifier does not match the committed identifier hash")
	}

	signers, err := e.verifyQuorum(signed)
	if err != nil {
		return nil, 0, err
	}

	proofID, err := e.proofs.NextProofID()
	if err != nil {
		return nil, 0, errors.Wrap(err, "allocating proof id")
	}
	proof := entities.Proof{
		Id:          proofID,
		ClaimedAtMs: nowMs,
		Owner:       commitment.Committer,
		ClaimInfo:   info,
		SignedClaim: signed,
	}
	if err := e.proofs.SetProof(proof); err != nil {
		return nil, 0, errors.Wrap(err, "persisting proof")
	}

	e.logger.Infow("Proof issued", "proofId", proofID, "identifier", signed.Claim.Identifier, "witnesses", len(signers))
	e.publish(ctx, proof)

	return signers, proofID, nil
}

// verifyQuorum checks that the recovered signer set equals exactly the
// witness subset selected for the claim identifier in the current epoch.
func (e *Engine) verifyQuorum(signed entities.SignedClaim) ([]common.Address, error) {
	epoch, err := e.epochs.Current()
	if err != nil {
		return nil, err
	}

	expected, err := witness.Select(epoch.Witnesses, hashing.SelectionSeed(signed.Claim.Identifier), epoch.Threshold)
	if err != nil {
		return nil, err
	}

	message := signature.PersonalMessage(claimMessageBody(signed.Claim))

	signers := make([]common.Address, 0, len(signed.Signatures))
	seen := make(map[common.Address]bool)
	for _, sig := range signed.Signatures {
		signer, err := signature.RecoverAddress(sig, message)
		if err != nil {
			return nil, err
		}
		if seen[signer] {
			return nil, errors.Wrapf(ErrDuplicateSigner, "signer %s", signer.Hex())
		}
		seen[signer] = true
		signers = append(signers, signer)
	}

	if len(signers) != len(expected) {
		return nil, errors.Wrapf(ErrWitnessCountMismatch, "got %d signatures, expected %d", len(signers), len(expected))
	}

	// set equality, order independent: remove each signer from a copy of
	// the expected subset and require the copy to end empty
	remaining := slices.Clone(expected)
	for _, signer := range signers {
		index := slices.Index(remaining, signer)
		if index < 0 {
			return nil, errors.Wrapf(ErrWitnessSetMismatch, "signer %s is not a selected witness", signer.Hex())
		}
		remaining[index] = remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]
	}
	if len(remaining) > 0 {
		return nil, errors.Wrapf(ErrWitnessSetMismatch, "%d selected witnesses did not sign", len(remaining))
	}

	return signers, nil
}

// ExpireCommitments removes the given commitments if they are past the
// reveal deadline. Ids are handled independently: the result lists the ids
// actually removed and the per-id failures.
func (e *Engine) ExpireCommitments(ids []uint64, nowMs int64) ([]uint64, map[uint64]error) {
	expired := make([]uint64, 0, len(ids))
	failed := make(map[uint64]error)

	for _, id := range ids {
		if err := e.ledger.Expire(id, nowMs, e.revealDeadlineMs()); err != nil {
			failed[id] = err
			continue
		}
		expired = append(expired, id)
	}

	if len(expired) > 0 {
		e.metrics.AddExpiredCommitments(len(expired))
		e.logger.Infow("Expired commitments", "count", len(expired))
	}
	return expired, failed
}

// PendingCommitments lists the ids of all live commitments.
func (e *Engine) PendingCommitments() ([]uint64, error) {
	return e.ledger.PendingIDs()
}

// Proof loads an issued proof by id.
func (e *Engine) Proof(id uint64) (entities.Proof, error) {
	proof, err := e.proofs.GetProof(id)
	if err != nil {
		return entities.Proof{}, errors.Wrapf(ErrProofNotFound, "id %d: %v", id, err)
	}
	return proof, nil
}

func (e *Engine) publish(ctx context.Context, proof entities.Proof) {
	for _, sink := range e.sinks {
		if err := sink.PublishProof(ctx, proof); err != nil {
			e.metrics.IncProofPublishErrors()
			e.logger.Errorw("Error publishing proof", "proofId", proof.Id, "error", err)
		}
	}
}

func (e *Engine) revealDeadlineMs() int64 {
	return e.cfg.MinRevealDelay.Milliseconds() + e.cfg.MaxRevealWindow.Milliseconds()
}

// claimMessageBody composes the witness-signed message body. The line order
// is part of the signing contract.
func claimMessageBody(claim entities.ClaimData) []byte {
	body := claim.Identifier + "\n" + claim.Owner + "\n" + claim.TimestampS + "\n" + claim.Epoch
	return []byte(body)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrCommitmentNotFound):
		return "commitment_not_found"
	case errors.Is(err, ErrUnauthorizedRevealer):
		return "unauthorized_revealer"
	case errors.Is(err, ErrRevealTooEarly):
		return "too_early"
	case errors.Is(err, ErrRevealTooLate):
		return "too_late"
	case errors.Is(err, ErrInvalidNonce):
		return "invalid_nonce"
	case errors.Is(err, ErrInvalidCommitment):
		return "invalid_commitment"
	case errors.Is(err, signature.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrDuplicateSigner):
		return "duplicate_signer"
	case errors.Is(err, ErrWitnessCountMismatch):
		return "witness_count_mismatch"
	case errors.Is(err, ErrWitnessSetMismatch):
		return "witness_set_mismatch"
	case errors.Is(err, witness.ErrInsufficientWitnessPool):
		return "insufficient_witness_pool"
	case errors.Is(err, ErrNoCurrentEpoch):
		return "no_current_epoch"
	default:
		return "internal"
	}
}
