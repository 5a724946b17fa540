package kafka

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/attesto/attestation-service/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type MockKafkaClient struct {
	shouldError bool
	produced    []*kgo.Record
}

func (mkc *MockKafkaClient) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	if mkc.shouldError {
		go promise(nil, errors.New("dummy error"))
		return
	}
	mkc.produced = append(mkc.produced, r)
	go promise(r, nil)
}

func testProof() entities.Proof {
	return entities.Proof{
		Id:          42,
		ClaimedAtMs: 1712345679000,
		Owner:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		ClaimInfo:   entities.ClaimInfo{Provider: "http", Parameters: "{}", Context: "{}"},
		SignedClaim: entities.SignedClaim{
			Claim: entities.ClaimData{
				Identifier: "0xabc",
				Owner:      "0x1111111111111111111111111111111111111111",
				Epoch:      "1",
				TimestampS: "1712345678",
			},
			Signatures: [][]byte{make([]byte, 65)},
		},
	}
}

func TestClient_PublishProof(t *testing.T) {
	mock := &MockKafkaClient{}
	client := NewClient(mock)

	err := client.PublishProof(context.Background(), testProof())
	require.NoError(t, err)

	require.Len(t, mock.produced, 1)
	assert.Equal(t, uint64(42), binary.BigEndian.Uint64(mock.produced[0].Key))
	assert.Contains(t, string(mock.produced[0].Value), `"identifier":"0xabc"`)
}

func TestClient_PublishProof_error(t *testing.T) {
	client := NewClient(&MockKafkaClient{shouldError: true})

	err := client.PublishProof(context.Background(), testProof())
	assert.Error(t, err)
}
