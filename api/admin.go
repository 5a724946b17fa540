package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/attesto/attestation-service/entities"
	"github.com/ethereum/go-ethereum/common"
)

// RequireToken gates configuration-mutating endpoints behind a bearer token.
// An empty configured token disables the admin surface entirely.
func RequireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			writeError(w, http.StatusForbidden, "admin_disabled", "admin endpoints are disabled")
			return
		}
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type AddEpochRequest struct {
	Number    uint8    `json:"number"`
	StartMs   int64    `json:"startMs"`
	EndMs     int64    `json:"endMs"`
	Witnesses []string `json:"witnesses"`
	Threshold uint8    `json:"threshold"`
}

func (h *Handler) AddEpoch(w http.ResponseWriter, r *http.Request) {
	var request AddEpochRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "decoding request body")
		return
	}

	witnesses, err := decodeAddresses(request.Witnesses)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid witness address")
		return
	}

	epoch := entities.WitnessEpoch{
		Number:    request.Number,
		StartMs:   request.StartMs,
		EndMs:     request.EndMs,
		Witnesses: witnesses,
		Threshold: request.Threshold,
	}
	if err := h.epochs.AddEpoch(epoch); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJson(w, epoch)
}

type UpdateWitnessesRequest struct {
	Witnesses []string `json:"witnesses"`
}

func (h *Handler) UpdateWitnesses(w http.ResponseWriter, r *http.Request) {
	var request UpdateWitnessesRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "decoding request body")
		return
	}

	witnesses, err := decodeAddresses(request.Witnesses)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid witness address")
		return
	}

	if err := h.epochs.UpdateWitnesses(witnesses); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type UpdateThresholdRequest struct {
	Threshold uint8 `json:"threshold"`
}

func (h *Handler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	var request UpdateThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "decoding request body")
		return
	}

	if err := h.epochs.UpdateThreshold(request.Threshold); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ExpireRequest struct {
	// CommitmentIds optionally narrows the candidates. When empty, all
	// pending commitments are examined.
	CommitmentIds []uint64 `json:"commitmentIds"`
}

type ExpireResponse struct {
	Expired []uint64          `json:"expired"`
	Failed  map[uint64]string `json:"failed,omitempty"`
}

func (h *Handler) ExpireCommitments(w http.ResponseWriter, r *http.Request) {
	var request ExpireRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "decoding request body")
			return
		}
	}

	candidates := request.CommitmentIds
	if len(candidates) == 0 {
		pending, err := h.engine.PendingCommitments()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "listing pending commitments")
			return
		}
		candidates = pending
	}

	expired, failed := h.engine.ExpireCommitments(candidates, h.now())

	response := ExpireResponse{Expired: expired}
	if len(failed) > 0 {
		response.Failed = make(map[uint64]string, len(failed))
		for id, err := range failed {
			response.Failed[id] = err.Error()
		}
	}
	writeJson(w, response)
}

func decodeAddresses(hexAddresses []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(hexAddresses))
	for _, hex := range hexAddresses {
		address, err := decodeAddress(hex)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, address)
	}
	return addresses, nil
}
