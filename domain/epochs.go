package domain

import (
	"sync"

	"github.com/attesto/attestation-service/entities"
	"github.com/attesto/attestation-service/infrastructure/store/pebbledb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
)

const currentEpochCacheKey = "current-epoch"

type epochStore interface {
	SetEpoch(epoch entities.WitnessEpoch) error
	GetEpoch(number uint8) (entities.WitnessEpoch, error)
	GetCurrentEpoch() (entities.WitnessEpoch, error)
}

// EpochManager owns the append-only witness epoch sequence. Configuration
// mutations are expected to arrive through the authorized admin surface;
// the manager itself performs no authorization checks.
type EpochManager struct {
	store epochStore
	cache *ttlcache.Cache[string, entities.WitnessEpoch]
	mu    sync.Mutex
}

func NewEpochManager(store epochStore, cache *ttlcache.Cache[string, entities.WitnessEpoch]) *EpochManager {
	return &EpochManager{store: store, cache: cache}
}

// Current returns the epoch with the highest number. Reads on the hot reveal
// path are served from the ttl cache.
func (m *EpochManager) Current() (entities.WitnessEpoch, error) {
	m.mu.Lock() // lock so that we do not get multiple threads inside the `if`
	defer m.mu.Unlock()

	item := m.cache.Get(currentEpochCacheKey)
	if item != nil {
		return item.Value(), nil
	}

	epoch, err := m.store.GetCurrentEpoch()
	if errors.Is(err, pebbledb.ErrNotFound) {
		return entities.WitnessEpoch{}, ErrNoCurrentEpoch
	}
	if err != nil {
		return entities.WitnessEpoch{}, errors.Wrap(err, "loading current epoch")
	}

	m.cache.Set(currentEpochCacheKey, epoch, ttlcache.DefaultTTL)
	return epoch, nil
}

// AddEpoch appends a new epoch. Epoch numbers are strictly increasing and
// the new epoch becomes current immediately.
func (m *EpochManager) AddEpoch(epoch entities.WitnessEpoch) error {
	if err := validateEpoch(epoch); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.GetCurrentEpoch()
	if err != nil && !errors.Is(err, pebbledb.ErrNotFound) {
		return errors.Wrap(err, "loading current epoch")
	}
	if err == nil && epoch.Number <= current.Number {
		return errors.Wrapf(ErrInvalidEpoch, "epoch number %d is not greater than current %d", epoch.Number, current.Number)
	}

	if err := m.store.SetEpoch(epoch); err != nil {
		return errors.Wrap(err, "storing epoch")
	}

	m.cache.Delete(currentEpochCacheKey)
	return nil
}

// UpdateWitnesses replaces the witness pool of the current epoch.
func (m *EpochManager) UpdateWitnesses(witnesses []common.Address) error {
	return m.updateCurrent(func(epoch *entities.WitnessEpoch) error {
		if err := validateWitnesses(witnesses); err != nil {
			return err
		}
		if int(epoch.Threshold) > len(witnesses) {
			return errors.Wrapf(ErrInvalidEpoch, "threshold %d exceeds pool size %d", epoch.Threshold, len(witnesses))
		}
		epoch.Witnesses = witnesses
		return nil
	})
}

// UpdateThreshold replaces the signature threshold of the current epoch.
func (m *EpochManager) UpdateThreshold(threshold uint8) error {
	return m.updateCurrent(func(epoch *entities.WitnessEpoch) error {
		if threshold == 0 || int(threshold) > len(epoch.Witnesses) {
			return errors.Wrapf(ErrInvalidEpoch, "threshold %d out of range for pool size %d", threshold, len(epoch.Witnesses))
		}
		epoch.Threshold = threshold
		return nil
	})
}

func (m *EpochManager) updateCurrent(mutate func(epoch *entities.WitnessEpoch) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	epoch, err := m.store.GetCurrentEpoch()
	if errors.Is(err, pebbledb.ErrNotFound) {
		return ErrNoCurrentEpoch
	}
	if err != nil {
		return errors.Wrap(err, "loading current epoch")
	}

	if err := mutate(&epoch); err != nil {
		return err
	}

	if err := m.store.SetEpoch(epoch); err != nil {
		return errors.Wrap(err, "storing epoch")
	}

	m.cache.Delete(currentEpochCacheKey)
	return nil
}

func validateEpoch(epoch entities.WitnessEpoch) error {
	if len(epoch.Witnesses) == 0 {
		return errors.Wrap(ErrInvalidEpoch, "empty witness pool")
	}
	if err := validateWitnesses(epoch.Witnesses); err != nil {
		return err
	}
	if epoch.Threshold == 0 || int(epoch.Threshold) > len(epoch.Witnesses) {
		return errors.Wrapf(ErrInvalidEpoch, "threshold %d out of range for pool size %d", epoch.Threshold, len(epoch.Witnesses))
	}
	if epoch.EndMs != 0 && epoch.EndMs <= epoch.StartMs {
		return errors.Wrapf(ErrInvalidEpoch, "window [%d, %d) is empty", epoch.StartMs, epoch.EndMs)
	}
	return nil
}

// validateWitnesses rejects duplicate addresses. A duplicate could be
// selected twice for the same claim, and a quorum containing the same
// witness twice can never be signed without tripping the duplicate signer
// check.
func validateWitnesses(witnesses []common.Address) error {
	seen := make(map[common.Address]bool, len(witnesses))
	for _, witness := range witnesses {
		if seen[witness] {
			return errors.Wrapf(ErrInvalidEpoch, "duplicate witness %s", witness.Hex())
		}
		seen[witness] = true
	}
	return nil
}
