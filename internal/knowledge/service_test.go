package knowledge

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/kbgraph-go/internal/apperr"
	"github.com/54b3r/kbgraph-go/internal/embedder"
	"github.com/54b3r/kbgraph-go/internal/graph"
	"github.com/54b3r/kbgraph-go/internal/kb"
	"github.com/54b3r/kbgraph-go/internal/loader"
	"github.com/54b3r/kbgraph-go/internal/vecstore"
)

// wordExtractor turns every capitalised word of a chunk into a Term entity.
type wordExtractor struct{}

func (wordExtractor) Extract(_ context.Context, doc graph.SourceDocument, _ graph.Options) (graph.GraphDocument, error) {
	out := graph.GraphDocument{Source: doc}
	for _, w := range strings.Fields(doc.Text) {
		w = strings.Trim(w, ".,")
		if w != "" && strings.ToUpper(w[:1]) == w[:1] {
			out.Nodes = append(out.Nodes, graph.Node{ID: w, Type: "Term"})
		}
	}
	return out, nil
}

type fixture struct {
	svc   *Service
	reg   *kb.Registry
	vecs  *vecstore.Store
	graph *graph.MemoryStore
}

func newFixture(t *testing.T, withGraph bool) *fixture {
	t.Helper()
	reg, err := kb.Open(t.TempDir())
	require.NoError(t, err)
	emb := embedder.NewHashEmbedder(64)
	vecs := vecstore.New(reg.VectorPath, emb)

	cfg := &Config{Registry: reg, Vectors: vecs, Loader: loader.Default(), Embedder: emb}
	f := &fixture{reg: reg, vecs: vecs}
	if withGraph {
		f.graph = graph.NewMemoryStore()
		cfg.Graph = f.graph
		cfg.Extractor = wordExtractor{}
	}
	f.svc, err = New(cfg)
	require.NoError(t, err)
	return f
}

func (f *fixture) kbWith(t *testing.T, name string, files ...[2]string) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.svc.Create(ctx, name, "test kb")
	require.NoError(t, err)
	for _, file := range files {
		_, err := f.svc.Upload(ctx, id, file[0], strings.NewReader(file[1]))
		require.NoError(t, err)
	}
	return id
}

func TestService_HelloScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false)
	id := f.kbWith(t, "docs", [2]string{"note.txt", "hello hello world"})

	res, err := f.svc.GenerateVectors(ctx, id, 5, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Total, 1)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "note.txt", res.Files[0].Filename)

	matches, err := f.svc.Query(ctx, id, "hello", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Text, "hello")
}

func TestService_GenerateVectorsErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false)
	empty := f.kbWith(t, "empty")
	full := f.kbWith(t, "full", [2]string{"a.txt", "text"})

	_, err := f.svc.GenerateVectors(ctx, "nope", 10, 0)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.GenerateVectors(ctx, empty, 10, 0)
	require.ErrorIs(t, err, apperr.ErrEmptyKnowledgeBase)

	_, err = f.svc.GenerateVectors(ctx, full, 10, 10)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestService_GenerateVectorsDefaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	id := f.kbWith(t, "docs", [2]string{"a.txt", "short"})

	res, err := f.svc.GenerateVectors(context.Background(), id, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 500, res.ChunkSize)
	assert.Equal(t, 100, res.ChunkOverlap)
	assert.Equal(t, 1, res.Total)
}

func TestService_GenerateVectorsDefaultSizeKeepsOverlap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	id := f.kbWith(t, "docs", [2]string{"a.txt", "short"})

	res, err := f.svc.GenerateVectors(context.Background(), id, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 500, res.ChunkSize)
	assert.Equal(t, 20, res.ChunkOverlap)

	_, err = f.svc.GenerateVectors(context.Background(), id, 0, 500)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestService_RegenerateIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false)
	id := f.kbWith(t, "docs",
		[2]string{"a.md", "# Alpha\n\nThe first document talks about alpha particles and decay."},
		[2]string{"b.txt", "The second document is about beta radiation."},
	)

	_, err := f.svc.GenerateVectors(ctx, id, 20, 5)
	require.NoError(t, err)
	first, err := f.vecs.Load(ctx, id)
	require.NoError(t, err)

	_, err = f.svc.GenerateVectors(ctx, id, 20, 5)
	require.NoError(t, err)
	second, err := f.vecs.Load(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first, second, "regenerate replaces rather than appends")
	assert.Equal(t, "a.md", first[0].SourceFilename, "files are processed in registration order")
	assert.Equal(t, "b.txt", first[len(first)-1].SourceFilename)
}

func TestService_FailingFileKeepsEarlierFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false)
	id := f.kbWith(t, "docs",
		[2]string{"good.txt", "good content"},
		[2]string{"image.png", "binary"},
		[2]string{"later.txt", "never reached"},
	)

	res, err := f.svc.GenerateVectors(ctx, id, 50, 0)
	require.ErrorIs(t, err, apperr.ErrUnsupportedFormat)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "good.txt", res.Files[0].Filename)

	records, err := f.vecs.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good.txt", records[0].SourceFilename)
}

func TestService_UploadAndOpenFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false)
	id := f.kbWith(t, "docs")

	fileID, err := f.svc.Upload(ctx, id, "report.txt", strings.NewReader("exact bytes\x00\n"))
	require.NoError(t, err)

	rec, fh, err := f.svc.OpenFile(ctx, id, fileID)
	require.NoError(t, err)
	defer fh.Close()
	got, err := io.ReadAll(fh)
	require.NoError(t, err)
	assert.Equal(t, "exact bytes\x00\n", string(got))
	assert.Equal(t, "report.txt", rec.Filename)
}

func TestService_DeleteByLevel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true)
	id := f.kbWith(t, "docs", [2]string{"a.txt", "Ada met Babbage in London."})

	_, err := f.svc.GenerateVectors(ctx, id, 0, 0)
	require.NoError(t, err)
	built, err := f.svc.BuildGraph(ctx, id, graph.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, built.Documents)
	assert.True(t, f.graph.HasEntity("Ada"))

	info, err := f.svc.Info(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Vectors)
	assert.Equal(t, 1, info.GraphDocuments)

	require.NoError(t, f.svc.DeleteByLevel(ctx, id, LevelGraph))
	assert.False(t, f.graph.HasEntity("Ada"))
	n, err := f.vecs.Count(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "graph level keeps vectors")

	require.NoError(t, f.svc.DeleteByLevel(ctx, id, LevelVectors))
	n, err = f.vecs.Count(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.svc.Get(ctx, id)
	require.NoError(t, err, "vec level keeps the kb")

	require.NoError(t, f.svc.DeleteByLevel(ctx, id, LevelAll))
	_, err = f.svc.Get(ctx, id)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.ErrorIs(t, f.svc.DeleteByLevel(ctx, id, LevelAll), apperr.ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteByLevel(ctx, id, Level("files")), apperr.ErrInvalidLevel)
}

func TestService_DeleteKeepsEntitiesOfOtherKB(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true)
	a := f.kbWith(t, "a", [2]string{"a.txt", "Shared and Alpha."})
	b := f.kbWith(t, "b", [2]string{"b.txt", "Shared and Beta."})
	for _, id := range []string{a, b} {
		_, err := f.svc.GenerateVectors(ctx, id, 0, 0)
		require.NoError(t, err)
		_, err = f.svc.BuildGraph(ctx, id, graph.Options{})
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.DeleteByLevel(ctx, a, LevelAll))
	assert.True(t, f.graph.HasEntity("Shared"))
	assert.False(t, f.graph.HasEntity("Alpha"))
	assert.True(t, f.graph.HasEntity("Beta"))

	require.NoError(t, f.svc.DeleteByLevel(ctx, b, LevelGraph))
	assert.False(t, f.graph.HasEntity("Shared"))
}

func TestService_BuildGraphErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	noGraph := newFixture(t, false)
	id := noGraph.kbWith(t, "docs", [2]string{"a.txt", "Ada"})
	_, err := noGraph.svc.BuildGraph(ctx, id, graph.Options{})
	require.ErrorIs(t, err, apperr.ErrGraphUnavailable)
	require.NoError(t, noGraph.svc.DeleteByLevel(ctx, id, LevelGraph), "graph deletion without a store is a no-op")

	f := newFixture(t, true)
	id = f.kbWith(t, "docs", [2]string{"a.txt", "lowercase words only"})
	_, err = f.svc.BuildGraph(ctx, id, graph.Options{})
	require.ErrorIs(t, err, apperr.ErrNotFound, "no vectors generated yet")

	_, err = f.svc.GenerateVectors(ctx, id, 0, 0)
	require.NoError(t, err)
	_, err = f.svc.BuildGraph(ctx, id, graph.Options{})
	require.ErrorIs(t, err, apperr.ErrGraphExtractionFailed)

	_, err = f.svc.BuildGraph(ctx, "nope", graph.Options{})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_Clear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true)
	f.kbWith(t, "one")
	f.kbWith(t, "two")

	n, err := f.svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.svc.List(ctx))
}

func TestService_ResetVectorsUnknownKB(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	require.ErrorIs(t, f.svc.ResetVectors(context.Background(), "nope"), apperr.ErrNotFound)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"graph", LevelGraph, false},
		{"vec", LevelVectors, false},
		{" ALL ", LevelAll, false},
		{"", "", true},
		{"vectors", "", true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, apperr.ErrInvalidLevel, tc.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{})
	assert.Error(t, err)
}
