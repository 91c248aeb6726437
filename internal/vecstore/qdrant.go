package vecstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection shared by every knowledge base. Points
	// carry a kb_uuid payload field.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// pointNamespace seeds the deterministic point ids derived from kb and chunk ids.
var pointNamespace = uuid.MustParse("6f1d5c8e-2b7a-4d0e-9c61-3a8f2e4b7d90")

// QdrantMirror implements Mirror on a Qdrant collection.
type QdrantMirror struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

// NewQdrantMirror connects to Qdrant and ensures the collection exists.
func NewQdrantMirror(ctx context.Context, cfg *QdrantConfig) (*QdrantMirror, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "kbgraph"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	m := &QdrantMirror{client: client, cfg: cfg}
	if err := m.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return m, nil
}

// ensureCollection creates the collection and its kb_uuid payload index if
// they do not already exist.
func (m *QdrantMirror) ensureCollection(ctx context.Context) error {
	exists, err := m.client.CollectionExists(ctx, m.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     m.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", m.cfg.Collection, err)
	}

	_, err = m.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: m.cfg.Collection,
		FieldName:      "kb_uuid",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index kb_uuid: %w", err)
	}
	return nil
}

// PointID maps a chunk to its Qdrant point id. Identical chunk text within
// one kb collapses to a single point.
func PointID(kbID, chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(kbID+"/"+chunkID)).String()
}

// Upsert stores records with their vectors and provenance payload.
func (m *QdrantMirror) Upsert(ctx context.Context, kbID string, records []Record) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(kbID, r.ID)),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id":        r.ID,
				"text":            r.Text,
				"source_filename": r.SourceFilename,
				"file_uuid":       r.FileUUID,
				"kb_uuid":         kbID,
			}),
		})
	}

	wait := true
	_, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: m.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Reset deletes every point whose kb_uuid payload equals kbID.
func (m *QdrantMirror) Reset(ctx context.Context, kbID string) error {
	wait := true
	_, err := m.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: m.cfg.Collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("kb_uuid", kbID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete kb %s failed: %w", kbID, err)
	}
	return nil
}

// Ping reports whether Qdrant answers a health check.
func (m *QdrantMirror) Ping(ctx context.Context) error {
	if _, err := m.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Name identifies the mirror in readiness output.
func (m *QdrantMirror) Name() string { return "qdrant" }

// Close closes the underlying Qdrant gRPC connection.
func (m *QdrantMirror) Close() error {
	return m.client.Close()
}
