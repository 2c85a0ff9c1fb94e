package resonance

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kadirpekel/accord/pkg/vector"
)

// PineconeIndex stores agent vectors in a managed Pinecone index.
//
// The index itself must exist already (created via the Pinecone console
// or API); only points are managed here.
type PineconeIndex struct {
	client    *pinecone.Client
	indexName string
}

// PineconeOptions configures a PineconeIndex.
type PineconeOptions struct {
	// APIKey for the Pinecone project. Required.
	APIKey string

	// IndexName of the pre-created index. Defaults to "agents".
	IndexName string
}

// NewPineconeIndex creates a Pinecone-backed index.
func NewPineconeIndex(opts PineconeOptions) (*PineconeIndex, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}
	if opts.IndexName == "" {
		opts.IndexName = "agents"
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &PineconeIndex{
		client:    client,
		indexName: opts.IndexName,
	}, nil
}

// connect resolves the index host and opens a connection to it.
func (idx *PineconeIndex) connect(ctx context.Context) (*pinecone.IndexConnection, error) {
	index, err := idx.client.DescribeIndex(ctx, idx.indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %s: %w", idx.indexName, err)
	}

	indexConn, err := idx.client.Index(pinecone.NewIndexConnParams{
		Host: index.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}

	return indexConn, nil
}

// Upsert writes the agent's vector. Scenes become boolean metadata keys
// so Search can filter on them.
func (idx *PineconeIndex) Upsert(ctx context.Context, entry IndexEntry) error {
	if entry.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}

	indexConn, err := idx.connect(ctx)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	metadata := map[string]any{
		"agent_id": entry.AgentID,
	}
	if entry.DisplayName != "" {
		metadata["display_name"] = entry.DisplayName
	}
	for _, scene := range entry.Scenes {
		metadata[sceneKey(scene)] = true
	}

	pineconeMetadata, err := structpb.NewStruct(metadata)
	if err != nil {
		return fmt.Errorf("failed to convert metadata: %w", err)
	}

	pineconeVector := &pinecone.Vector{
		Id:       entry.AgentID,
		Values:   entry.Vector,
		Metadata: pineconeMetadata,
	}

	_, err = indexConn.UpsertVectors(ctx, []*pinecone.Vector{pineconeVector})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	return nil
}

// Search queries the index, filtered to the scene when one is given.
func (idx *PineconeIndex) Search(ctx context.Context, demand vector.Vector, topK int, scene string) ([]Activation, error) {
	if topK <= 0 || vector.Norm(demand) < vector.Epsilon {
		return []Activation{}, nil
	}

	indexConn, err := idx.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if scene != "" {
		metadataFilter, err = structpb.NewStruct(map[string]any{
			sceneKey(scene): true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	queryRequest := &pinecone.QueryByVectorValuesRequest{
		Vector:          demand,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
	}

	queryResponse, err := indexConn.QueryByVectorValues(ctx, queryRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	activations := make([]Activation, 0, len(queryResponse.Matches))
	for _, scoredVector := range queryResponse.Matches {
		if scoredVector.Vector == nil {
			continue
		}

		agentID := scoredVector.Vector.Id
		if scoredVector.Vector.Metadata != nil {
			if id, ok := scoredVector.Vector.Metadata.AsMap()["agent_id"].(string); ok && id != "" {
				agentID = id
			}
		}

		activations = append(activations, Activation{
			AgentID: agentID,
			Score:   float64(scoredVector.Score),
		})
	}
	sortActivations(activations)

	return activations, nil
}

// Delete removes the agent's vector by ID.
func (idx *PineconeIndex) Delete(ctx context.Context, agentID string) error {
	indexConn, err := idx.connect(ctx)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	if err := indexConn.DeleteVectorsById(ctx, []string{agentID}); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}

	return nil
}

// Close releases nothing; connections are opened per operation.
func (idx *PineconeIndex) Close() error {
	return nil
}

var _ Index = (*PineconeIndex)(nil)
