package graph

import (
	"context"
	"sort"
	"sync"
)

type memDocument struct {
	kbID     string
	source   SourceDocument
	mentions map[string]bool
}

type memEdge struct {
	source, target, typ string
}

// MemoryStore is an in-process GraphStore with the same merge and delete
// semantics as Neo4jStore. Entities are merged by id; a Document is keyed by
// kb and chunk id.
type MemoryStore struct {
	mu        sync.Mutex
	documents map[string]*memDocument
	entities  map[string]map[string]bool // id -> type labels
	edges     map[memEdge]bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*memDocument),
		entities:  make(map[string]map[string]bool),
		edges:     make(map[memEdge]bool),
	}
}

// DocumentKey is the id of the Document node committed for chunkID in kbID.
func DocumentKey(kbID, chunkID string) string { return kbID + ":" + chunkID }

// AddGraphDocuments implements GraphStore.
func (s *MemoryStore) AddGraphDocuments(ctx context.Context, kbID string, docs []GraphDocument) error {
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.addOne(kbID, doc)
	}
	return nil
}

func (s *MemoryStore) addOne(kbID string, doc GraphDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := DocumentKey(kbID, doc.Source.ID)
	d, ok := s.documents[key]
	if !ok {
		d = &memDocument{mentions: make(map[string]bool)}
		s.documents[key] = d
	}
	d.kbID = kbID
	d.source = doc.Source

	for _, n := range doc.Nodes {
		s.mergeEntity(n)
		d.mentions[n.ID] = true
	}
	for _, r := range doc.Relationships {
		s.mergeEntity(r.Source)
		s.mergeEntity(r.Target)
		s.edges[memEdge{r.Source.ID, r.Target.ID, r.Type}] = true
	}
}

func (s *MemoryStore) mergeEntity(n Node) {
	labels, ok := s.entities[n.ID]
	if !ok {
		labels = make(map[string]bool)
		s.entities[n.ID] = labels
	}
	labels[n.Type] = true
}

// DeleteExclusiveEntities implements GraphStore.
func (s *MemoryStore) DeleteExclusiveEntities(ctx context.Context, kbID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make(map[string]bool)
	shared := make(map[string]bool)
	for _, d := range s.documents {
		for id := range d.mentions {
			if d.kbID == kbID {
				candidates[id] = true
			} else {
				shared[id] = true
			}
		}
	}

	deleted := 0
	for id := range candidates {
		if shared[id] {
			continue
		}
		if _, ok := s.entities[id]; !ok {
			continue
		}
		s.detachEntity(id)
		deleted++
	}
	return deleted, nil
}

func (s *MemoryStore) detachEntity(id string) {
	delete(s.entities, id)
	for e := range s.edges {
		if e.source == id || e.target == id {
			delete(s.edges, e)
		}
	}
	for _, d := range s.documents {
		delete(d.mentions, id)
	}
}

// DeleteDocuments implements GraphStore.
func (s *MemoryStore) DeleteDocuments(ctx context.Context, kbID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, d := range s.documents {
		if d.kbID == kbID {
			delete(s.documents, key)
			deleted++
		}
	}
	return deleted, nil
}

// DocumentCount implements GraphStore.
func (s *MemoryStore) DocumentCount(_ context.Context, kbID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, d := range s.documents {
		if d.kbID == kbID {
			n++
		}
	}
	return n, nil
}

// HasEntity reports whether an entity with id exists.
func (s *MemoryStore) HasEntity(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entities[id]
	return ok
}

// Labels returns the sorted type labels of entity id.
func (s *MemoryStore) Labels(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for l := range s.entities[id] {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// HasRelationship reports whether source -[typ]-> target exists.
func (s *MemoryStore) HasRelationship(source, typ, target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edges[memEdge{source, target, typ}]
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Name identifies the store in readiness output.
func (s *MemoryStore) Name() string { return "graph-memory" }

// Close implements GraphStore.
func (s *MemoryStore) Close(context.Context) error { return nil }
