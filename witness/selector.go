// Package witness derives the k-of-n witness subset responsible for a claim.
// The sampling is a pure function of (pool, seed hash, k) so that any
// verifier can reproduce the subset from public data alone; a general
// purpose PRNG must not be substituted here.
package witness

import (
	"encoding/binary"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const seedWindowSize = 4

var ErrInsufficientWitnessPool = errors.New("insufficient witness pool")

// Select samples k distinct addresses from pool, seeded by seedHash.
//
// For each pick, a 4-byte window is read from the seed hash at a rolling
// offset (wrapping around its end), widened to a 64-bit value and reduced
// modulo the remaining pool size. The picked element is removed by swapping
// it with the last element and shrinking the pool. Output order is selection
// order.
func Select(pool []common.Address, seedHash []byte, k uint8) ([]common.Address, error) {
	if int(k) > len(pool) {
		return nil, errors.Wrapf(ErrInsufficientWitnessPool, "need %d witnesses, pool has %d", k, len(pool))
	}
	if len(seedHash) == 0 {
		return nil, errors.New("empty seed hash")
	}

	candidates := slices.Clone(pool)
	selected := make([]common.Address, 0, k)

	byteOffset := 0
	for i := 0; i < int(k); i++ {
		var window [seedWindowSize]byte
		for j := 0; j < seedWindowSize; j++ {
			window[j] = seedHash[(byteOffset+j)%len(seedHash)]
		}
		seedValue := uint64(binary.BigEndian.Uint32(window[:]))

		index := int(seedValue % uint64(len(candidates)))
		selected = append(selected, candidates[index])

		candidates[index] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		byteOffset += seedWindowSize
	}

	return selected, nil
}
