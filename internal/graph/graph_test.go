package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// cannedModel answers every Generate call with reply.
type cannedModel struct {
	reply string
	err   error
	seen  []*schema.Message
}

func (m *cannedModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.seen = in
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *cannedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// mapExtractor returns a fixed document per chunk text.
type mapExtractor map[string]GraphDocument

func (m mapExtractor) Extract(_ context.Context, doc SourceDocument, opts Options) (GraphDocument, error) {
	out := m[doc.Text]
	out.Source = doc
	return Filter(out, opts), nil
}

func entity(id, typ string) Node { return Node{ID: id, Type: typ} }

func rel(src Node, typ string, dst Node) Relationship {
	return Relationship{Source: src, Target: dst, Type: typ}
}

func TestLLMExtractor_ParsesFencedJSON(t *testing.T) {
	t.Parallel()

	m := &cannedModel{reply: "Here you go:\n```json\n" + `{
  "nodes": [{"id": " Ada Lovelace ", "type": "PERSON"}, {"id": "Analytical Engine", "type": "machine"}],
  "relationships": [
    {"source": "Ada Lovelace", "source_type": "person", "target": "Analytical Engine", "target_type": "Machine", "type": "wrote about"},
    {"source": "Charles Babbage", "source_type": "Person", "target": "Analytical Engine", "target_type": "Machine", "type": "DESIGNED"}
  ]
}` + "\n```"}
	ext := NewLLMExtractor(m)

	doc, err := ext.Extract(context.Background(), SourceDocument{ID: "c1", Text: "Ada wrote about the engine."}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "c1", doc.Source.ID)
	assert.Equal(t, []Node{
		entity("Ada Lovelace", "Person"),
		entity("Analytical Engine", "Machine"),
		entity("Charles Babbage", "Person"),
	}, doc.Nodes)
	require.Len(t, doc.Relationships, 2)
	assert.Equal(t, "WROTE_ABOUT", doc.Relationships[0].Type)

	require.Len(t, m.seen, 2)
	assert.Equal(t, schema.System, m.seen[0].Role)
	assert.Equal(t, "Ada wrote about the engine.", m.seen[1].Content)
}

func TestLLMExtractor_AllowListsInPrompt(t *testing.T) {
	t.Parallel()

	m := &cannedModel{reply: `{"nodes":[],"relationships":[]}`}
	_, err := NewLLMExtractor(m).Extract(context.Background(), SourceDocument{ID: "c"},
		Options{AllowedNodes: []string{"Person"}, AllowedRelationships: []string{"KNOWS"}})
	require.NoError(t, err)
	assert.Contains(t, m.seen[0].Content, "entity types: Person.")
	assert.Contains(t, m.seen[0].Content, "relationship types: KNOWS.")
}

func TestLLMExtractor_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model *cannedModel
	}{
		{"model failure", &cannedModel{err: errors.New("timeout")}},
		{"no json", &cannedModel{reply: "I could not find anything."}},
		{"malformed json", &cannedModel{reply: `{"nodes": [}`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewLLMExtractor(tc.model).Extract(context.Background(), SourceDocument{ID: "c"}, Options{})
			require.ErrorIs(t, err, apperr.ErrGraphExtractionFailed)
		})
	}
}

func TestFilter_Strict(t *testing.T) {
	t.Parallel()

	ada, acme, paris := entity("Ada", "Person"), entity("Acme", "Organization"), entity("Paris", "City")
	doc := GraphDocument{
		Nodes: []Node{ada, acme, paris},
		Relationships: []Relationship{
			rel(ada, "WORKS_FOR", acme),
			rel(ada, "LIVES_IN", paris),
			rel(acme, "RIVALS", acme),
		},
	}

	loose := Filter(doc, Options{AllowedNodes: []string{"person"}})
	assert.Equal(t, doc, loose, "non-strict filtering only guides the model")

	got := Filter(doc, Options{
		AllowedNodes:         []string{"person", "ORGANIZATION"},
		AllowedRelationships: []string{"works_for"},
		Strict:               true,
	})
	assert.Equal(t, []Node{ada, acme}, got.Nodes)
	assert.Equal(t, []Relationship{rel(ada, "WORKS_FOR", acme)}, got.Relationships)
}

func TestBuilder_Build(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ada, acme := entity("Ada", "Person"), entity("Acme", "Organization")
	ext := mapExtractor{
		"Ada works for Acme.": {Nodes: []Node{ada, acme}, Relationships: []Relationship{rel(ada, "WORKS_FOR", acme)}},
		"Nothing here.":       {},
	}
	store := NewMemoryStore()
	b := NewBuilder(ext, store)

	res, err := b.Build(ctx, "kbA", []vecstore.Record{
		{ID: "c1", Text: "Ada works for Acme.", SourceFilename: "a.txt"},
		{ID: "c2", Text: "Nothing here."},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, BuildResult{Documents: 2, Nodes: 2, Relationships: 1}, res)

	n, err := store.DocumentCount(ctx, "kbA")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, store.HasRelationship("Ada", "WORKS_FOR", "Acme"))
	assert.Equal(t, []string{"Person"}, store.Labels("Ada"))
}

func TestBuilder_NothingExtracted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemoryStore()
	_, err := NewBuilder(mapExtractor{}, store).Build(ctx, "kbA",
		[]vecstore.Record{{ID: "c1", Text: "plain"}}, Options{})
	require.ErrorIs(t, err, apperr.ErrGraphExtractionFailed)

	n, err := store.DocumentCount(ctx, "kbA")
	require.NoError(t, err)
	assert.Zero(t, n, "nothing committed")
}

func TestBuilder_StrictFilterCanEmptyEverything(t *testing.T) {
	t.Parallel()

	ext := mapExtractor{"x": {Nodes: []Node{entity("Paris", "City")}}}
	_, err := NewBuilder(ext, NewMemoryStore()).Build(context.Background(), "kb",
		[]vecstore.Record{{ID: "c", Text: "x"}}, Options{AllowedNodes: []string{"Person"}, Strict: true})
	require.ErrorIs(t, err, apperr.ErrGraphExtractionFailed)
}

// sharedGraph commits two knowledge bases that both mention entity E.
func sharedGraph(t *testing.T) *MemoryStore {
	t.Helper()
	e, a, b := entity("E", "Thing"), entity("OnlyA", "Thing"), entity("OnlyB", "Thing")
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.AddGraphDocuments(ctx, "A", []GraphDocument{{
		Nodes:         []Node{e, a},
		Relationships: []Relationship{rel(a, "LINKS", e)},
		Source:        SourceDocument{ID: "same-chunk"},
	}}))
	require.NoError(t, store.AddGraphDocuments(ctx, "B", []GraphDocument{{
		Nodes:         []Node{e, b},
		Relationships: []Relationship{rel(b, "LINKS", e)},
		Source:        SourceDocument{ID: "same-chunk"},
	}}))
	return store
}

func TestLifecycle_SharedEntitySurvives(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := sharedGraph(t)
	lc := NewLifecycle(store)

	res, err := lc.DeleteContribution(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Entities: 1, Documents: 1}, res)

	assert.True(t, store.HasEntity("E"))
	assert.False(t, store.HasEntity("OnlyA"))
	assert.True(t, store.HasEntity("OnlyB"))
	assert.True(t, store.HasRelationship("OnlyB", "LINKS", "E"))
	assert.False(t, store.HasRelationship("OnlyA", "LINKS", "E"))

	n, err := store.DocumentCount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "identical chunk ids in two kbs stay separate documents")

	res, err = lc.DeleteContribution(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Entities: 2, Documents: 1}, res)
	assert.False(t, store.HasEntity("E"))
}

func TestLifecycle_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lc := NewLifecycle(sharedGraph(t))

	_, err := lc.DeleteContribution(ctx, "A")
	require.NoError(t, err)
	res, err := lc.DeleteContribution(ctx, "A")
	require.NoError(t, err)
	assert.Zero(t, res)
}

// failingDocuments fails Phase B until healed.
type failingDocuments struct {
	*MemoryStore
	fail bool
}

func (f *failingDocuments) DeleteDocuments(ctx context.Context, kbID string) (int, error) {
	if f.fail {
		return 0, errors.New("connection reset")
	}
	return f.MemoryStore.DeleteDocuments(ctx, kbID)
}

func TestLifecycle_FailureBetweenPhasesIsRepairedByRerun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &failingDocuments{MemoryStore: sharedGraph(t), fail: true}
	lc := NewLifecycle(store)

	res, err := lc.DeleteContribution(ctx, "A")
	require.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 1, res.Entities)
	assert.False(t, store.HasEntity("OnlyA"))

	n, err := store.DocumentCount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "provenance orphan left behind")

	store.fail = false
	res, err = lc.DeleteContribution(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Entities: 0, Documents: 1}, res)
	assert.True(t, store.HasEntity("E"))
}

func TestLifecycle_NilStore(t *testing.T) {
	t.Parallel()

	res, err := NewLifecycle(nil).DeleteContribution(context.Background(), "A")
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestNewStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := NewStore(ctx, &StoreConfig{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewStore(ctx, &StoreConfig{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(ctx, &StoreConfig{Backend: "arangodb"})
	require.ErrorIs(t, err, apperr.ErrUnknownCapability)
}

func TestStoreConfigFromEnv(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "")
	t.Setenv("NEO4J_URI", "bolt://localhost:7687")
	t.Setenv("NEO4J_USER", "")
	cfg := StoreConfigFromEnv()
	assert.Equal(t, BackendNeo4j, cfg.Backend)
	assert.Equal(t, "neo4j", cfg.Neo4j.User)

	t.Setenv("NEO4J_URI", "")
	assert.Equal(t, BackendNone, StoreConfigFromEnv().Backend)
}

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "`Person`", quoteIdent("Person"))
	assert.Equal(t, "`WORKS_FOR`", quoteIdent("WORKS_FOR"))
	assert.Equal(t, "`a_b__`", quoteIdent("a`b})"))
	assert.Equal(t, "`Entity`", quoteIdent(""))
}
