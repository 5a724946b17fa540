package entities

// ClaimInfo describes which off-chain source and extraction rule produced a
// claim. Values are immutable once constructed.
type ClaimInfo struct {
	Provider   string `json:"provider"`
	Parameters string `json:"parameters"`
	Context    string `json:"context"`
}

// ClaimData is the attested fact. All fields are kept as text because they
// are signed byte-for-byte by witnesses.
type ClaimData struct {
	Identifier string `json:"identifier"`
	Owner      string `json:"owner"`
	Epoch      string `json:"epoch"`
	TimestampS string `json:"timestampS"`
}

// SignedClaim carries one 65-byte ECDSA signature per attesting witness.
type SignedClaim struct {
	Claim      ClaimData `json:"claim"`
	Signatures [][]byte  `json:"signatures"`
}
