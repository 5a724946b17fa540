package entities

import "github.com/ethereum/go-ethereum/common"

// WitnessEpoch is a time-bounded validity window with its own witness pool
// and signature threshold. Epochs are append-only and strictly increasing in
// number; the highest number is the current epoch. StartMs/EndMs describe
// the intended window but are advisory: reveals always verify against the
// current epoch, an operator rotates epochs to move the boundary.
type WitnessEpoch struct {
	Number    uint8            `json:"number"`
	StartMs   int64            `json:"startMs"`
	EndMs     int64            `json:"endMs"`
	Witnesses []common.Address `json:"witnesses"`
	Threshold uint8            `json:"threshold"`
}
