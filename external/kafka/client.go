package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"

	"github.com/attesto/attestation-service/entities"
	"github.com/twmb/franz-go/pkg/kgo"
)

type KafkaClient interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// Client publishes issued proofs to the configured proofs topic.
type Client struct {
	kcl KafkaClient
}

func NewClient(kafkaClient KafkaClient) *Client {
	return &Client{
		kcl: kafkaClient,
	}
}

func (kc *Client) PublishProof(ctx context.Context, proof entities.Proof) error {
	record, err := createProofRecord(proof)
	if err != nil {
		return fmt.Errorf("creating proof record: %w", err)
	}

	errorChannel := make(chan error, 1)
	kc.kcl.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			log.Printf("Error while producing proof record: %v", err)
		}
		errorChannel <- err
	})

	if err := <-errorChannel; err != nil {
		return fmt.Errorf("producing proof record: %w", err)
	}
	return nil
}

func createProofRecord(proof entities.Proof) (*kgo.Record, error) {
	payload, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("marshalling proof to json: %w", err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, proof.Id)

	return &kgo.Record{
		Key:   key,
		Value: payload,
	}, nil
}
