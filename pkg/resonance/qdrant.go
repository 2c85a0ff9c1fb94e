package resonance

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/accord/pkg/vector"
)

// defaultQdrantPort is Qdrant's grpc port.
const defaultQdrantPort = 6334

// QdrantIndex stores agent vectors in a Qdrant collection over grpc.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// QdrantOptions configures a QdrantIndex.
type QdrantOptions struct {
	// Endpoint is "host" or "host:port"; the port defaults to 6334.
	Endpoint string

	// APIKey authenticates against Qdrant Cloud. Optional for
	// self-hosted instances.
	APIKey string

	// UseTLS enables TLS on the grpc connection.
	UseTLS bool

	// Collection name. Defaults to "agents".
	Collection string
}

// NewQdrantIndex connects to a Qdrant instance. The collection is
// created lazily on the first Upsert, sized to the first vector seen.
func NewQdrantIndex(opts QdrantOptions) (*QdrantIndex, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if opts.Collection == "" {
		opts.Collection = "agents"
	}

	host, port, err := splitQdrantEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantIndex{
		client:     client,
		collection: opts.Collection,
	}, nil
}

func splitQdrantEndpoint(endpoint string) (string, int, error) {
	if !strings.Contains(endpoint, ":") {
		return endpoint, defaultQdrantPort, nil
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant endpoint %q: %w", endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in qdrant endpoint %q: %w", endpoint, err)
	}
	return host, port, nil
}

// pointID derives a stable UUID from the agent ID. Qdrant point IDs
// must be integers or UUIDs, and agent IDs are arbitrary strings.
func pointID(agentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(agentID)).String()
}

// Upsert writes the agent's point, creating the collection on first
// use. The agent ID travels in the payload because the point ID is a
// derived UUID.
func (idx *QdrantIndex) Upsert(ctx context.Context, entry IndexEntry) error {
	if entry.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}

	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}

	if !exists {
		err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: idx.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(entry.Vector)),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// Another writer may have raced us to the create.
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	payload := make(map[string]*qdrant.Value)
	metadata := map[string]any{
		"agent_id": entry.AgentID,
	}
	if entry.DisplayName != "" {
		metadata["display_name"] = entry.DisplayName
	}
	if len(entry.Scenes) > 0 {
		scenes := make([]any, len(entry.Scenes))
		for i, scene := range entry.Scenes {
			scenes[i] = scene
		}
		metadata["scenes"] = scenes
	}
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
		}
		payload[key] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(pointID(entry.AgentID)),
		Vectors: qdrant.NewVectors(entry.Vector...),
		Payload: payload,
	}

	_, err = idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

// Search runs a cosine similarity query, filtered to the scene when one
// is given. Qdrant's keyword match on the scenes list payload field
// matches any element.
func (idx *QdrantIndex) Search(ctx context.Context, demand vector.Vector, topK int, scene string) ([]Activation, error) {
	if topK <= 0 || vector.Norm(demand) < vector.Epsilon {
		return []Activation{}, nil
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: idx.collection,
		Vector:         demand,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if scene != "" {
		searchRequest.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key: "scenes",
							Match: &qdrant.Match{
								MatchValue: &qdrant.Match_Keyword{
									Keyword: scene,
								},
							},
						},
					},
				},
			},
		}
	}

	pointsClient := idx.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	activations := make([]Activation, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		agentID := ""
		if point.Payload != nil {
			if val, ok := point.Payload["agent_id"]; ok {
				agentID = val.GetStringValue()
			}
		}
		if agentID == "" {
			continue
		}
		activations = append(activations, Activation{
			AgentID: agentID,
			Score:   float64(point.Score),
		})
	}
	sortActivations(activations)

	return activations, nil
}

// Delete removes the agent's point by its derived UUID.
func (idx *QdrantIndex) Delete(ctx context.Context, agentID string) error {
	deletePoints := &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{
						{PointIdOptions: &qdrant.PointId_Uuid{Uuid: pointID(agentID)}},
					},
				},
			},
		},
	}

	_, err := idx.client.Delete(ctx, deletePoints)
	if err != nil {
		return fmt.Errorf("failed to delete point for agent %s: %w", agentID, err)
	}
	return nil
}

// Close tears down the grpc connection.
func (idx *QdrantIndex) Close() error {
	return idx.client.Close()
}

var _ Index = (*QdrantIndex)(nil)
