package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/attesto/attestation-service/domain"
	"github.com/attesto/attestation-service/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "test-admin-token"
const testNowMs = int64(1712345678000)

type mockEngine struct {
	commitID      uint64
	commitErr     error
	revealSigners []common.Address
	revealProofID uint64
	revealErr     error
	expired       []uint64
	expireFailed  map[uint64]error
	pending       []uint64
	proof         entities.Proof
	proofErr      error

	lastCommitter common.Address
	lastCaller    common.Address
	lastNowMs     int64
	lastExpireIds []uint64
}

func (m *mockEngine) Commit(_, _ []byte, committer common.Address, nowMs int64) (uint64, error) {
	m.lastCommitter = committer
	m.lastNowMs = nowMs
	return m.commitID, m.commitErr
}

func (m *mockEngine) Reveal(_ context.Context, _ uint64, caller common.Address, _ entities.ClaimInfo,
	_ entities.SignedClaim, _ []byte, nowMs int64) ([]common.Address, uint64, error) {
	m.lastCaller = caller
	m.lastNowMs = nowMs
	return m.revealSigners, m.revealProofID, m.revealErr
}

func (m *mockEngine) ExpireCommitments(ids []uint64, _ int64) ([]uint64, map[uint64]error) {
	m.lastExpireIds = ids
	return m.expired, m.expireFailed
}

func (m *mockEngine) PendingCommitments() ([]uint64, error) {
	return m.pending, nil
}

func (m *mockEngine) Proof(_ uint64) (entities.Proof, error) {
	return m.proof, m.proofErr
}

type mockEpochs struct {
	current    entities.WitnessEpoch
	currentErr error
	addErr     error

	addedEpoch       entities.WitnessEpoch
	updatedWitnesses []common.Address
	updatedThreshold uint8
}

func (m *mockEpochs) Current() (entities.WitnessEpoch, error) {
	return m.current, m.currentErr
}

func (m *mockEpochs) AddEpoch(epoch entities.WitnessEpoch) error {
	m.addedEpoch = epoch
	return m.addErr
}

func (m *mockEpochs) UpdateWitnesses(witnesses []common.Address) error {
	m.updatedWitnesses = witnesses
	return nil
}

func (m *mockEpochs) UpdateThreshold(threshold uint8) error {
	m.updatedThreshold = threshold
	return nil
}

func testServer(engine *mockEngine, epochs *mockEpochs) *httptest.Server {
	handler := NewHandler(engine, epochs, func() int64 { return testNowMs })
	mux := http.NewServeMux()
	handler.Register(mux, testAdminToken)
	return httptest.NewServer(mux)
}

func postJson(t *testing.T, url string, payload any) *http.Response {
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	response, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return response
}

func decodeResponse[T any](t *testing.T, response *http.Response) T {
	defer response.Body.Close()
	var decoded T
	require.NoError(t, json.NewDecoder(response.Body).Decode(&decoded))
	return decoded
}

func TestHandler_Commit(t *testing.T) {
	engine := &mockEngine{commitID: 42}
	server := testServer(engine, &mockEpochs{})
	defer server.Close()

	response := postJson(t, server.URL+"/v1/commitments", CommitRequest{
		CommitmentHash: "0x" + bytes32Hex(0xaa),
		IdentifierHash: "0x" + bytes32Hex(0xbb),
		Committer:      "0x1111111111111111111111111111111111111111",
	})

	require.Equal(t, http.StatusOK, response.StatusCode)
	decoded := decodeResponse[CommitResponse](t, response)
	assert.Equal(t, uint64(42), decoded.CommitmentId)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), engine.lastCommitter)
	assert.Equal(t, testNowMs, engine.lastNowMs)
}

func TestHandler_Commit_invalidHash(t *testing.T) {
	server := testServer(&mockEngine{}, &mockEpochs{})
	defer server.Close()

	response := postJson(t, server.URL+"/v1/commitments", CommitRequest{
		CommitmentHash: "0xdead",
		IdentifierHash: "0x" + bytes32Hex(0xbb),
		Committer:      "0x1111111111111111111111111111111111111111",
	})
	defer response.Body.Close()

	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestHandler_Commit_duplicate(t *testing.T) {
	engine := &mockEngine{commitErr: domain.ErrDuplicateCommitment}
	server := testServer(engine, &mockEpochs{})
	defer server.Close()

	response := postJson(t, server.URL+"/v1/commitments", CommitRequest{
		CommitmentHash: "0x" + bytes32Hex(0xaa),
		IdentifierHash: "0x" + bytes32Hex(0xbb),
		Committer:      "0x1111111111111111111111111111111111111111",
	})

	require.Equal(t, http.StatusConflict, response.StatusCode)
	decoded := decodeResponse[ErrorResponse](t, response)
	assert.Equal(t, "duplicate_commitment", decoded.Code)
}

func TestHandler_Reveal(t *testing.T) {
	witnessAddress := common.HexToAddress("0x2222222222222222222222222222222222222222")
	engine := &mockEngine{revealSigners: []common.Address{witnessAddress}, revealProofID: 7}
	server := testServer(engine, &mockEpochs{})
	defer server.Close()

	response := postJson(t, server.URL+"/v1/commitments/42/reveal", RevealRequest{
		Caller:     "0x1111111111111111111111111111111111111111",
		Provider:   "http",
		Parameters: "{}",
		Context:    "{}",
		Identifier: "0xabc",
		Owner:      "0x1111111111111111111111111111111111111111",
		Epoch:      "1",
		TimestampS: "1712345678",
		Signatures: [][]byte{make([]byte, 65)},
		Nonce:      []byte("nonce"),
	})

	require.Equal(t, http.StatusOK, response.StatusCode)
	decoded := decodeResponse[RevealResponse](t, response)
	assert.Equal(t, uint64(7), decoded.ProofId)
	assert.Equal(t, []string{witnessAddress.Hex()}, decoded.Witnesses)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), engine.lastCaller)
}

func TestHandler_Reveal_notFound(t *testing.T) {
	engine := &mockEngine{revealErr: domain.ErrCommitmentNotFound}
	server := testServer(engine, &mockEpochs{})
	defer server.Close()

	response := postJson(t, server.URL+"/v1/commitments/42/reveal", RevealRequest{
		Caller: "0x1111111111111111111111111111111111111111",
	})

	require.Equal(t, http.StatusNotFound, response.StatusCode)
	decoded := decodeResponse[ErrorResponse](t, response)
	assert.Equal(t, "commitment_not_found", decoded.Code)
}

func TestHandler_Reveal_quorumFailureCode(t *testing.T) {
	engine := &mockEngine{revealErr: domain.ErrWitnessSetMismatch}
	server := testServer(engine, &mockEpochs{})
	defer server.Close()

	response := postJson(t, server.URL+"/v1/commitments/42/reveal", RevealRequest{
		Caller: "0x1111111111111111111111111111111111111111",
	})

	require.Equal(t, http.StatusUnprocessableEntity, response.StatusCode)
	decoded := decodeResponse[ErrorResponse](t, response)
	assert.Equal(t, "witness_set_mismatch", decoded.Code)
}

func TestHandler_GetProof_notFound(t *testing.T) {
	engine := &mockEngine{proofErr: domain.ErrProofNotFound}
	server := testServer(engine, &mockEpochs{})
	defer server.Close()

	response, err := http.Get(server.URL + "/v1/proofs/99")
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestHandler_GetStatus(t *testing.T) {
	engine := &mockEngine{pending: []uint64{1, 2, 3}}
	server := testServer(engine, &mockEpochs{})
	defer server.Close()

	response, err := http.Get(server.URL + "/status")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, response.StatusCode)
	decoded := decodeResponse[StatusResponse](t, response)
	assert.Equal(t, 3, decoded.PendingCommitments)
}

func TestHandler_AdminRequiresToken(t *testing.T) {
	server := testServer(&mockEngine{}, &mockEpochs{})
	defer server.Close()

	// no token
	response := postJson(t, server.URL+"/v1/admin/epochs", AddEpochRequest{})
	defer response.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)

	// wrong token
	request, err := http.NewRequest(http.MethodPost, server.URL+"/v1/admin/epochs", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	request.Header.Set("Authorization", "Bearer wrong")
	wrongResponse, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer wrongResponse.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrongResponse.StatusCode)
}

func TestHandler_AdminAddEpoch(t *testing.T) {
	epochs := &mockEpochs{}
	server := testServer(&mockEngine{}, epochs)
	defer server.Close()

	payload, err := json.Marshal(AddEpochRequest{
		Number:    1,
		Witnesses: []string{"0x2222222222222222222222222222222222222222"},
		Threshold: 1,
	})
	require.NoError(t, err)

	request, err := http.NewRequest(http.MethodPost, server.URL+"/v1/admin/epochs", bytes.NewReader(payload))
	require.NoError(t, err)
	request.Header.Set("Authorization", "Bearer "+testAdminToken)

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	require.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, uint8(1), epochs.addedEpoch.Number)
	assert.Equal(t,
		[]common.Address{common.HexToAddress("0x2222222222222222222222222222222222222222")},
		epochs.addedEpoch.Witnesses)
}

func TestHandler_AdminExpire_fallsBackToPending(t *testing.T) {
	engine := &mockEngine{
		pending: []uint64{1, 2},
		expired: []uint64{1},
		expireFailed: map[uint64]error{
			2: domain.ErrNotExpired,
		},
	}
	server := testServer(engine, &mockEpochs{})
	defer server.Close()

	request, err := http.NewRequest(http.MethodPost, server.URL+"/v1/admin/commitments/expire", nil)
	require.NoError(t, err)
	request.Header.Set("Authorization", "Bearer "+testAdminToken)

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, response.StatusCode)
	decoded := decodeResponse[ExpireResponse](t, response)
	assert.Equal(t, []uint64{1, 2}, engine.lastExpireIds)
	assert.Equal(t, []uint64{1}, decoded.Expired)
	assert.Contains(t, decoded.Failed[2], "not expired")
}

func bytes32Hex(fill byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, 64)
	for i := 0; i < 32; i++ {
		out = append(out, hexDigits[fill>>4], hexDigits[fill&0x0f])
	}
	return string(out)
}
