package domain

import (
	"sync"

	"github.com/attesto/attestation-service/entities"
	"github.com/attesto/attestation-service/infrastructure/store/pebbledb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type commitmentStore interface {
	NextCommitmentID() (uint64, error)
	CreateCommitment(commitment entities.ProofCommitment) error
	GetCommitment(id uint64) (entities.ProofCommitment, error)
	GetCommitmentIDByIdentifier(identifierHash []byte) (uint64, error)
	DeleteCommitment(commitment entities.ProofCommitment) error
	PendingCommitmentIDs() ([]uint64, error)
}

// Ledger holds pending commitments and enforces the one-live-commitment-per
// identifier invariant. All mutations go through the ledger; the single
// mutex stands in for the transaction serialization of a ledger substrate,
// so racing operations on the same identifier resolve to exactly one winner.
type Ledger struct {
	store commitmentStore
	mu    sync.Mutex
}

func NewLedger(store commitmentStore) *Ledger {
	return &Ledger{store: store}
}

// Commit stores a new pending commitment. It fails with
// ErrDuplicateCommitment while a live commitment already occupies the
// identifier hash.
func (l *Ledger) Commit(commitmentHash, identifierHash []byte, committer common.Address, nowMs int64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.store.GetCommitmentIDByIdentifier(identifierHash)
	if err == nil {
		return 0, errors.Wrapf(ErrDuplicateCommitment, "identifier hash %x", identifierHash)
	}
	if !errors.Is(err, pebbledb.ErrNotFound) {
		return 0, errors.Wrap(err, "checking identifier index")
	}

	id, err := l.store.NextCommitmentID()
	if err != nil {
		return 0, errors.Wrap(err, "allocating commitment id")
	}

	commitment := entities.ProofCommitment{
		Id:                id,
		CommitmentHash:    commitmentHash,
		Committer:         committer,
		CommitTimestampMs: nowMs,
		IdentifierHash:    identifierHash,
	}
	if err := l.store.CreateCommitment(commitment); err != nil {
		return 0, errors.Wrap(err, "storing commitment")
	}

	return id, nil
}

// TakeForReveal removes and returns the commitment. The registry slot is
// freed as soon as a reveal is attempted: a failed verification afterwards
// forfeits the commitment and the caller must re-commit (single-use policy).
func (l *Ledger) TakeForReveal(id uint64, caller common.Address) (entities.ProofCommitment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	commitment, err := l.store.GetCommitment(id)
	if errors.Is(err, pebbledb.ErrNotFound) {
		return entities.ProofCommitment{}, errors.Wrapf(ErrCommitmentNotFound, "id %d", id)
	}
	if err != nil {
		return entities.ProofCommitment{}, errors.Wrap(err, "loading commitment")
	}

	if commitment.Committer != caller {
		return entities.ProofCommitment{}, errors.Wrapf(ErrUnauthorizedRevealer, "caller %s is not the committer", caller.Hex())
	}

	if err := l.store.DeleteCommitment(commitment); err != nil {
		return entities.ProofCommitment{}, errors.Wrap(err, "consuming commitment")
	}

	return commitment, nil
}

// PendingIDs lists all live commitment ids, for expiry candidate gathering.
func (l *Ledger) PendingIDs() ([]uint64, error) {
	return l.store.PendingCommitmentIDs()
}

// Expire removes the commitment if it is older than maxAgeMs. Each id is
// independent; a batch caller tolerates partial application.
func (l *Ledger) Expire(id uint64, nowMs int64, maxAgeMs int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	commitment, err := l.store.GetCommitment(id)
	if errors.Is(err, pebbledb.ErrNotFound) {
		return errors.Wrapf(ErrCommitmentNotFound, "id %d", id)
	}
	if err != nil {
		return errors.Wrap(err, "loading commitment")
	}

	if nowMs-commitment.CommitTimestampMs <= maxAgeMs {
		return errors.Wrapf(ErrNotExpired, "id %d", id)
	}

	if err := l.store.DeleteCommitment(commitment); err != nil {
		return errors.Wrap(err, "removing expired commitment")
	}

	return nil
}
