package entities

import "github.com/ethereum/go-ethereum/common"

// ProofCommitment is the pending half of the commit-reveal protocol. It is
// created at commit time and consumed exactly once, either by a reveal
// attempt or by expiry cleanup.
type ProofCommitment struct {
	Id                uint64         `json:"id"`
	CommitmentHash    []byte         `json:"commitmentHash"`
	Committer         common.Address `json:"committer"`
	CommitTimestampMs int64          `json:"commitTimestampMs"`
	IdentifierHash    []byte         `json:"identifierHash"`
}

// Proof is the durable record issued for a successfully revealed and
// quorum-verified claim. Terminal and immutable.
type Proof struct {
	Id          uint64         `json:"id"`
	ClaimedAtMs int64          `json:"claimedAtMs"`
	Owner       common.Address `json:"owner"`
	ClaimInfo   ClaimInfo      `json:"claimInfo"`
	SignedClaim SignedClaim    `json:"signedClaim"`
}
