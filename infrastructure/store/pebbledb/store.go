package pebbledb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/attesto/attestation-service/entities"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("store resource not found")

// key space prefixes
const (
	commitmentKey      = 0x00
	identifierIndexKey = 0x01
	epochKey           = 0x02
	proofKey           = 0x03
	sequenceKey        = 0x04
)

const (
	commitmentSequence = 0x00
	proofSequence      = 0x01
)

// Store is the persistence substrate for the attestation registry. One
// logical registry mutation that touches both the commitment record and the
// identifier index is applied as a single pebble batch, so a crash leaves no
// half-written entry.
type Store struct {
	db *pebble.DB
	// seqMu serializes the read-modify-write of the id sequences, so
	// concurrent callers never allocate the same id.
	seqMu sync.Mutex
}

func NewStore(storeDir string) (*Store, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "attestation-registry-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &Store{db: db}, nil
}

// NextCommitmentID increments and returns the commitment id sequence.
func (s *Store) NextCommitmentID() (uint64, error) {
	return s.nextSequence(commitmentSequence)
}

// NextProofID increments and returns the proof id sequence.
func (s *Store) NextProofID() (uint64, error) {
	return s.nextSequence(proofSequence)
}

func (s *Store) nextSequence(sequence byte) (uint64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	key := []byte{sequenceKey, sequence}

	var next uint64 = 1
	value, closer, err := s.db.Get(key)
	if err == nil {
		next = binary.BigEndian.Uint64(value) + 1
		if err := closer.Close(); err != nil {
			return 0, fmt.Errorf("closing value reader: %v", err)
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return 0, fmt.Errorf("reading sequence: %v", err)
	}

	var updated []byte
	updated = binary.BigEndian.AppendUint64(updated, next)
	if err := s.db.Set(key, updated, pebble.Sync); err != nil {
		return 0, fmt.Errorf("writing sequence: %v", err)
	}

	return next, nil
}

// CreateCommitment stores the commitment record and the identifier index
// entry atomically.
func (s *Store) CreateCommitment(commitment entities.ProofCommitment) error {
	payload, err := json.Marshal(commitment)
	if err != nil {
		return fmt.Errorf("marshalling commitment: %v", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(commitmentDbKey(commitment.Id), payload, nil); err != nil {
		return fmt.Errorf("setting commitment: %v", err)
	}
	var idValue []byte
	idValue = binary.BigEndian.AppendUint64(idValue, commitment.Id)
	if err := batch.Set(identifierDbKey(commitment.IdentifierHash), idValue, nil); err != nil {
		return fmt.Errorf("setting identifier index: %v", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("committing batch: %v", err)
	}
	return nil
}

func (s *Store) GetCommitment(id uint64) (entities.ProofCommitment, error) {
	value, closer, err := s.db.Get(commitmentDbKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return entities.ProofCommitment{}, ErrNotFound
	}
	if err != nil {
		return entities.ProofCommitment{}, fmt.Errorf("getting commitment [%d]: %v", id, err)
	}
	defer closer.Close()

	var commitment entities.ProofCommitment
	if err := json.Unmarshal(value, &commitment); err != nil {
		return entities.ProofCommitment{}, fmt.Errorf("unmarshalling commitment [%d]: %v", id, err)
	}
	return commitment, nil
}

// GetCommitmentIDByIdentifier returns the id of the live commitment for the
// given identifier hash, or ErrNotFound if the identifier is free.
func (s *Store) GetCommitmentIDByIdentifier(identifierHash []byte) (uint64, error) {
	value, closer, err := s.db.Get(identifierDbKey(identifierHash))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("getting identifier index: %v", err)
	}
	defer closer.Close()

	return binary.BigEndian.Uint64(value), nil
}

// DeleteCommitment removes the commitment record and its identifier index
// entry atomically.
func (s *Store) DeleteCommitment(commitment entities.ProofCommitment) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(commitmentDbKey(commitment.Id), nil); err != nil {
		return fmt.Errorf("deleting commitment: %v", err)
	}
	if err := batch.Delete(identifierDbKey(commitment.IdentifierHash), nil); err != nil {
		return fmt.Errorf("deleting identifier index: %v", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("committing batch: %v", err)
	}
	return nil
}

// PendingCommitmentIDs lists the ids of all live commitments. Used by the
// maintenance expiry endpoint to gather candidates.
func (s *Store) PendingCommitmentIDs() ([]uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{commitmentKey},
		UpperBound: []byte{commitmentKey + 1},
	})
	if err != nil {
		return nil, fmt.Errorf("creating iterator: %v", err)
	}
	defer iter.Close()

	ids := make([]uint64, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, binary.BigEndian.Uint64(iter.Key()[1:]))
	}
	return ids, nil
}

// SetEpoch stores a witness epoch keyed by its number.
func (s *Store) SetEpoch(epoch entities.WitnessEpoch) error {
	payload, err := json.Marshal(epoch)
	if err != nil {
		return fmt.Errorf("marshalling epoch: %v", err)
	}
	if err := s.db.Set([]byte{epochKey, epoch.Number}, payload, pebble.Sync); err != nil {
		return fmt.Errorf("setting epoch [%d]: %v", epoch.Number, err)
	}
	return nil
}

func (s *Store) GetEpoch(number uint8) (entities.WitnessEpoch, error) {
	value, closer, err := s.db.Get([]byte{epochKey, number})
	if errors.Is(err, pebble.ErrNotFound) {
		return entities.WitnessEpoch{}, ErrNotFound
	}
	if err != nil {
		return entities.WitnessEpoch{}, fmt.Errorf("getting epoch [%d]: %v", number, err)
	}
	defer closer.Close()

	var epoch entities.WitnessEpoch
	if err := json.Unmarshal(value, &epoch); err != nil {
		return entities.WitnessEpoch{}, fmt.Errorf("unmarshalling epoch [%d]: %v", number, err)
	}
	return epoch, nil
}

// GetCurrentEpoch returns the epoch with the highest number. Epochs are
// append-only, so the highest number is the current one.
func (s *Store) GetCurrentEpoch() (entities.WitnessEpoch, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{epochKey},
		UpperBound: []byte{epochKey + 1},
	})
	if err != nil {
		return entities.WitnessEpoch{}, fmt.Errorf("creating iterator: %v", err)
	}
	defer iter.Close()

	if !iter.Last() || !iter.Valid() {
		return entities.WitnessEpoch{}, ErrNotFound
	}

	value, err := iter.ValueAndErr()
	if err != nil {
		return entities.WitnessEpoch{}, fmt.Errorf("getting value from iter: %v", err)
	}

	var epoch entities.WitnessEpoch
	if err := json.Unmarshal(value, &epoch); err != nil {
		return entities.WitnessEpoch{}, fmt.Errorf("unmarshalling epoch: %v", err)
	}
	return epoch, nil
}

// SetProof stores an issued proof. Proofs are terminal and never mutated.
func (s *Store) SetProof(proof entities.Proof) error {
	payload, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("marshalling proof: %v", err)
	}
	if err := s.db.Set(proofDbKey(proof.Id), payload, pebble.Sync); err != nil {
		return fmt.Errorf("setting proof [%d]: %v", proof.Id, err)
	}
	return nil
}

func (s *Store) GetProof(id uint64) (entities.Proof, error) {
	value, closer, err := s.db.Get(proofDbKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return entities.Proof{}, ErrNotFound
	}
	if err != nil {
		return entities.Proof{}, fmt.Errorf("getting proof [%d]: %v", id, err)
	}
	defer closer.Close()

	var proof entities.Proof
	if err := json.Unmarshal(value, &proof); err != nil {
		return entities.Proof{}, fmt.Errorf("unmarshalling proof [%d]: %v", id, err)
	}
	return proof, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func commitmentDbKey(id uint64) []byte {
	key := []byte{commitmentKey}
	return binary.BigEndian.AppendUint64(key, id)
}

func identifierDbKey(identifierHash []byte) []byte {
	key := []byte{identifierIndexKey}
	return append(key, identifierHash...)
}

func proofDbKey(id uint64) []byte {
	key := []byte{proofKey}
	return binary.BigEndian.AppendUint64(key, id)
}
