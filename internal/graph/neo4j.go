package graph

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig holds connection parameters for a Neo4j server.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	// Database is optional; empty selects the server default.
	Database string
}

// Neo4jStore implements GraphStore on Neo4j.
//
// Document nodes carry the :Document label and a kb_id property. Entities
// carry the base label __Entity__ plus their type label and are merged by
// id across knowledge bases.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects, verifies connectivity and ensures the uniqueness
// constraints the merge queries rely on.
func NewNeo4jStore(ctx context.Context, cfg *Neo4jConfig) (*Neo4jStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("graph: NEO4J_URI is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: connect to neo4j at %s: %w", cfg.URI, err)
	}

	s := &Neo4jStore{driver: driver, database: cfg.Database}
	if err := s.ensureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Neo4jStore) ensureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, q := range []string{
		"CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE",
		"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:__Entity__) REQUIRE e.id IS UNIQUE",
		"CREATE INDEX document_kb_id IF NOT EXISTS FOR (d:Document) ON (d.kb_id)",
	} {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("graph: ensure neo4j schema: %w", err)
		}
	}
	return nil
}

const mergeDocumentQuery = `
MERGE (d:Document {id: $id})
SET d.kb_id = $kb_id,
    d.chunk_id = $chunk_id,
    d.text = $text,
    d.source_filename = $source_filename,
    d.file_uuid = $file_uuid`

// AddGraphDocuments implements GraphStore. Each document is committed in
// its own write transaction.
func (s *Neo4jStore) AddGraphDocuments(ctx context.Context, kbID string, docs []GraphDocument) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, doc := range docs {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return nil, writeDocument(ctx, tx, kbID, doc)
		})
		if err != nil {
			return fmt.Errorf("graph: commit document %s: %w", doc.Source.ID, err)
		}
	}
	return nil
}

func writeDocument(ctx context.Context, tx neo4j.ManagedTransaction, kbID string, doc GraphDocument) error {
	docID := DocumentKey(kbID, doc.Source.ID)
	if _, err := tx.Run(ctx, mergeDocumentQuery, map[string]interface{}{
		"id":              docID,
		"kb_id":           kbID,
		"chunk_id":        doc.Source.ID,
		"text":            doc.Source.Text,
		"source_filename": doc.Source.SourceFilename,
		"file_uuid":       doc.Source.FileUUID,
	}); err != nil {
		return err
	}

	// Labels cannot be query parameters, so sanitised type names are
	// interpolated.
	for _, n := range doc.Nodes {
		q := fmt.Sprintf(`
MATCH (d:Document {id: $doc_id})
MERGE (e:__Entity__ {id: $id})
SET e:%s
MERGE (d)-[:MENTIONS]->(e)`, quoteIdent(n.Type))
		if _, err := tx.Run(ctx, q, map[string]interface{}{"doc_id": docID, "id": n.ID}); err != nil {
			return err
		}
	}
	for _, r := range doc.Relationships {
		q := fmt.Sprintf(`
MERGE (s:__Entity__ {id: $source})
SET s:%s
MERGE (t:__Entity__ {id: $target})
SET t:%s
MERGE (s)-[:%s]->(t)`, quoteIdent(r.Source.Type), quoteIdent(r.Target.Type), quoteIdent(r.Type))
		if _, err := tx.Run(ctx, q, map[string]interface{}{"source": r.Source.ID, "target": r.Target.ID}); err != nil {
			return err
		}
	}
	return nil
}

// quoteIdent returns a backtick-quoted Cypher identifier holding only
// letters, digits and underscores.
func quoteIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "`Entity`"
	}
	return "`" + b.String() + "`"
}

const deleteExclusiveEntitiesQuery = `
MATCH (d:Document {kb_id: $kb_id})-[:MENTIONS]->(e:__Entity__)
WHERE NOT EXISTS {
  MATCH (other:Document)-[:MENTIONS]->(e)
  WHERE other.kb_id <> $kb_id
}
WITH DISTINCT e
DETACH DELETE e
RETURN count(e) AS deleted`

const deleteDocumentsQuery = `
MATCH (d:Document {kb_id: $kb_id})
DETACH DELETE d
RETURN count(d) AS deleted`

const documentCountQuery = `
MATCH (d:Document {kb_id: $kb_id})
RETURN count(d) AS deleted`

// DeleteExclusiveEntities implements GraphStore.
func (s *Neo4jStore) DeleteExclusiveEntities(ctx context.Context, kbID string) (int, error) {
	n, err := s.count(ctx, neo4j.AccessModeWrite, deleteExclusiveEntitiesQuery, kbID)
	if err != nil {
		return 0, fmt.Errorf("graph: delete exclusive entities of %s: %w", kbID, err)
	}
	return n, nil
}

// DeleteDocuments implements GraphStore.
func (s *Neo4jStore) DeleteDocuments(ctx context.Context, kbID string) (int, error) {
	n, err := s.count(ctx, neo4j.AccessModeWrite, deleteDocumentsQuery, kbID)
	if err != nil {
		return 0, fmt.Errorf("graph: delete documents of %s: %w", kbID, err)
	}
	return n, nil
}

// DocumentCount implements GraphStore.
func (s *Neo4jStore) DocumentCount(ctx context.Context, kbID string) (int, error) {
	n, err := s.count(ctx, neo4j.AccessModeRead, documentCountQuery, kbID)
	if err != nil {
		return 0, fmt.Errorf("graph: count documents of %s: %w", kbID, err)
	}
	return n, nil
}

// count runs a query that returns a single "deleted" integer column.
func (s *Neo4jStore) count(ctx context.Context, mode neo4j.AccessMode, query, kbID string) (int, error) {
	session := s.session(ctx, mode)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]interface{}{"kb_id": kbID})
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, result.Err()
	}
	v, ok := result.Record().Get("deleted")
	if !ok {
		return 0, nil
	}
	n, _ := v.(int64)
	return int(n), nil
}

// Ping verifies the driver can reach the server.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Name identifies the store in readiness output.
func (s *Neo4jStore) Name() string { return "neo4j" }

// Close releases the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
