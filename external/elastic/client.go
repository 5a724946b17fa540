package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/attesto/attestation-service/entities"
	"github.com/elastic/go-elasticsearch/v8"
)

// Client indexes issued proofs so they can be queried downstream.
type Client struct {
	esClient  *elasticsearch.Client
	indexName string
}

func NewClient(esClient *elasticsearch.Client, indexName string) *Client {
	return &Client{
		esClient:  esClient,
		indexName: indexName,
	}
}

func (c *Client) PublishProof(ctx context.Context, proof entities.Proof) error {
	payload, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("serializing proof: %w", err)
	}

	res, err := c.esClient.Index(
		c.indexName,
		bytes.NewReader(payload),
		c.esClient.Index.WithContext(ctx),
		c.esClient.Index.WithDocumentID(strconv.FormatUint(proof.Id, 10)),
	)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			log.Printf("Error closing response body: %v", err)
		}
	}(res.Body)

	if res.IsError() {
		return fmt.Errorf("got error response from elastic: %s", res.String())
	}
	return nil
}
