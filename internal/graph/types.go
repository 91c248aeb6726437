// Package graph turns stored chunks into entity/relationship documents and
// commits them to a knowledge graph shared by every knowledge base. Document
// nodes are tagged with the owning kb id; entity nodes are shared, so a kb's
// contribution is removed in two phases that leave entities other knowledge
// bases still mention in place.
package graph

import "strings"

// Node is an extracted entity.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// key identifies a node inside one document.
func (n Node) key() string { return n.Type + "\x00" + n.ID }

// Relationship is a typed edge between two extracted entities.
type Relationship struct {
	Source Node   `json:"source"`
	Target Node   `json:"target"`
	Type   string `json:"type"`
}

// SourceDocument is the provenance of a GraphDocument: one stored chunk and
// its metadata.
type SourceDocument struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	SourceFilename string    `json:"source_filename"`
	FileUUID       string    `json:"file_uuid"`
	KBUUID         string    `json:"kb_uuid"`
	Embedding      []float32 `json:"embedding,omitempty"`
}

// GraphDocument is what extraction produced for one SourceDocument.
type GraphDocument struct {
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
	Source        SourceDocument `json:"source"`
}

// Empty reports whether the document carries no entities and no relationships.
func (d GraphDocument) Empty() bool {
	return len(d.Nodes) == 0 && len(d.Relationships) == 0
}

// Options steers extraction. When Strict is false the allow-lists are only
// guidance for the model.
type Options struct {
	AllowedNodes         []string `json:"allow_nodes"`
	AllowedRelationships []string `json:"allow_relationships"`
	Strict               bool     `json:"strict"`
}

// allowed reports whether value is in list, ignoring case. An empty list
// allows everything.
func allowed(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}

// Filter applies the strict allow-lists to doc. Nodes with a type outside
// AllowedNodes are dropped together with every relationship that touches
// them; relationships with a type outside AllowedRelationships are dropped.
// Without Strict the document is returned unchanged.
func Filter(doc GraphDocument, opts Options) GraphDocument {
	if !opts.Strict {
		return doc
	}
	out := GraphDocument{Source: doc.Source, Nodes: []Node{}, Relationships: []Relationship{}}
	for _, n := range doc.Nodes {
		if allowed(opts.AllowedNodes, n.Type) {
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, r := range doc.Relationships {
		if !allowed(opts.AllowedRelationships, r.Type) {
			continue
		}
		if !allowed(opts.AllowedNodes, r.Source.Type) || !allowed(opts.AllowedNodes, r.Target.Type) {
			continue
		}
		out.Relationships = append(out.Relationships, r)
	}
	return out
}

// normalizeType capitalises the first letter and lower-cases the rest,
// so "PERSON" and "person" both become "Person".
func normalizeType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	r := []rune(strings.ToLower(s))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

// normalizeRelType upper-cases and joins words with underscores.
func normalizeRelType(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), "_"))
}
