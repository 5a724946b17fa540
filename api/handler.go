package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/attesto/attestation-service/domain"
	"github.com/attesto/attestation-service/entities"
	"github.com/attesto/attestation-service/signature"
	"github.com/attesto/attestation-service/witness"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const hashLength = 32

type AttestationEngine interface {
	Commit(commitmentHash, identifierHash []byte, committer common.Address, nowMs int64) (uint64, error)
	Reveal(ctx context.Context, commitmentID uint64, caller common.Address, info entities.ClaimInfo,
		signed entities.SignedClaim, nonce []byte, nowMs int64) ([]common.Address, uint64, error)
	ExpireCommitments(ids []uint64, nowMs int64) ([]uint64, map[uint64]error)
	PendingCommitments() ([]uint64, error)
	Proof(id uint64) (entities.Proof, error)
}

type EpochProvider interface {
	Current() (entities.WitnessEpoch, error)
	AddEpoch(epoch entities.WitnessEpoch) error
	UpdateWitnesses(witnesses []common.Address) error
	UpdateThreshold(threshold uint8) error
}

type Handler struct {
	engine AttestationEngine
	epochs EpochProvider
	now    func() int64
}

func NewHandler(engine AttestationEngine, epochs EpochProvider, now func() int64) *Handler {
	return &Handler{engine: engine, epochs: epochs, now: now}
}

// Register wires all routes into mux. Admin routes mutate protocol
// configuration and are gated by the bearer token middleware.
func (h *Handler) Register(mux *http.ServeMux, adminToken string) {
	mux.HandleFunc("POST /v1/commitments", h.Commit)
	mux.HandleFunc("POST /v1/commitments/{id}/reveal", h.Reveal)
	mux.HandleFunc("GET /v1/proofs/{id}", h.GetProof)
	mux.HandleFunc("GET /v1/epochs/current", h.GetCurrentEpoch)
	mux.HandleFunc("GET /status", h.GetStatus)
	mux.HandleFunc("GET /health", h.GetHealth)

	mux.Handle("POST /v1/admin/epochs", RequireToken(adminToken, http.HandlerFunc(h.AddEpoch)))
	mux.Handle("PUT /v1/admin/epochs/current/witnesses", RequireToken(adminToken, http.HandlerFunc(h.UpdateWitnesses)))
	mux.Handle("PUT /v1/admin/epochs/current/threshold", RequireToken(adminToken, http.HandlerFunc(h.UpdateThreshold)))
	mux.Handle("POST /v1/admin/commitments/expire", RequireToken(adminToken, http.HandlerFunc(h.ExpireCommitments)))
}

type CommitRequest struct {
	CommitmentHash string `json:"commitmentHash"`
	IdentifierHash string `json:"identifierHash"`
	Committer      string `json:"committer"`
}

type CommitResponse struct {
	CommitmentId uint64 `json:"commitmentId"`
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var request CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "decoding request body")
		return
	}

	commitmentHash, err := decodeHash(request.CommitmentHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid commitment hash")
		return
	}
	identifierHash, err := decodeHash(request.IdentifierHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid identifier hash")
		return
	}
	committer, err := decodeAddress(request.Committer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid committer address")
		return
	}

	id, err := h.engine.Commit(commitmentHash, identifierHash, committer, h.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJson(w, CommitResponse{CommitmentId: id})
}

type RevealRequest struct {
	Caller     string   `json:"caller"`
	Provider   string   `json:"provider"`
	Parameters string   `json:"parameters"`
	Context    string   `json:"context"`
	Identifier string   `json:"identifier"`
	Owner      string   `json:"owner"`
	Epoch      string   `json:"epoch"`
	TimestampS string   `json:"timestampS"`
	Signatures [][]byte `json:"signatures"`
	Nonce      []byte   `json:"nonce"`
}

type RevealResponse struct {
	ProofId   uint64   `json:"proofId"`
	Witnesses []string `json:"witnesses"`
}

func (h *Handler) Reveal(w http.ResponseWriter, r *http.Request) {
	commitmentID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid commitment id")
		return
	}

	var request RevealRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "decoding request body")
		return
	}
	caller, err := decodeAddress(request.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid caller address")
		return
	}

	info := entities.ClaimInfo{
		Provider:   request.Provider,
		Parameters: request.Parameters,
		Context:    request.Context,
	}
	signed := entities.SignedClaim{
		Claim: entities.ClaimData{
			Identifier: request.Identifier,
			Owner:      request.Owner,
			Epoch:      request.Epoch,
			TimestampS: request.TimestampS,
		},
		Signatures: request.Signatures,
	}

	signers, proofID, err := h.engine.Reveal(r.Context(), commitmentID, caller, info, signed, request.Nonce, h.now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	witnesses := make([]string, 0, len(signers))
	for _, signer := range signers {
		witnesses = append(witnesses, signer.Hex())
	}
	writeJson(w, RevealResponse{ProofId: proofID, Witnesses: witnesses})
}

func (h *Handler) GetProof(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid proof id")
		return
	}

	proof, err := h.engine.Proof(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJson(w, proof)
}

func (h *Handler) GetCurrentEpoch(w http.ResponseWriter, _ *http.Request) {
	epoch, err := h.epochs.Current()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJson(w, epoch)
}

type StatusResponse struct {
	PendingCommitments int `json:"pendingCommitments"`
}

func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	pending, err := h.engine.PendingCommitments()
	if err != nil {
		log.Printf("Error getting pending commitments: %v", err)
		http.Error(w, "Error getting pending commitments", 500)
		return
	}
	writeJson(w, StatusResponse{PendingCommitments: len(pending)})
}

type HealthResponse struct {
	Status string `json:"status"`
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	writeJson(w, HealthResponse{Status: "UP"})
}

func decodeHash(value string) ([]byte, error) {
	decoded := common.FromHex(value)
	if len(decoded) != hashLength {
		return nil, errors.Errorf("expected %d bytes, got %d", hashLength, len(decoded))
	}
	return decoded, nil
}

func decodeAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.Errorf("not a hex address: %s", value)
	}
	return common.HexToAddress(value), nil
}

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJson(w http.ResponseWriter, payload any) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Error encoding response", 500)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Code: code, Error: message}); err != nil {
		log.Printf("Error encoding error response: %v", err)
	}
}

// writeDomainError maps the engine failure taxonomy to stable error codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	code := "verification_failed"

	switch {
	case errors.Is(err, domain.ErrDuplicateCommitment):
		status, code = http.StatusConflict, "duplicate_commitment"
	case errors.Is(err, domain.ErrCommitmentNotFound):
		status, code = http.StatusNotFound, "commitment_not_found"
	case errors.Is(err, domain.ErrProofNotFound):
		status, code = http.StatusNotFound, "proof_not_found"
	case errors.Is(err, domain.ErrUnauthorizedRevealer):
		status, code = http.StatusForbidden, "unauthorized_revealer"
	case errors.Is(err, domain.ErrRevealTooEarly):
		code = "reveal_too_early"
	case errors.Is(err, domain.ErrRevealTooLate):
		code = "reveal_too_late"
	case errors.Is(err, domain.ErrInvalidNonce):
		code = "invalid_nonce"
	case errors.Is(err, domain.ErrInvalidCommitment):
		code = "invalid_commitment"
	case errors.Is(err, signature.ErrInvalidSignature):
		code = "invalid_signature"
	case errors.Is(err, domain.ErrDuplicateSigner):
		code = "duplicate_signer"
	case errors.Is(err, domain.ErrWitnessCountMismatch):
		code = "witness_count_mismatch"
	case errors.Is(err, domain.ErrWitnessSetMismatch):
		code = "witness_set_mismatch"
	case errors.Is(err, witness.ErrInsufficientWitnessPool):
		code = "insufficient_witness_pool"
	case errors.Is(err, domain.ErrNotExpired):
		code = "not_expired"
	case errors.Is(err, domain.ErrNoCurrentEpoch):
		code = "no_current_epoch"
	case errors.Is(err, domain.ErrInvalidEpoch):
		status, code = http.StatusBadRequest, "invalid_epoch"
	default:
		log.Printf("Internal error: %v", err)
		status, code = http.StatusInternalServerError, "internal"
	}

	writeError(w, status, code, err.Error())
}
