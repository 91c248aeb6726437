// Package vecstore persists each knowledge base's chunk embeddings as a JSON
// array in vecs/vecs.json and answers brute-force cosine similarity queries
// over it. Writes are whole-file rewrites under a per-kb lock; an optional
// Mirror receives the same records for an external vector database.
package vecstore

// Record is one embedded chunk as persisted in vecs.json.
type Record struct {
	// ID is the lower-case hex sha256 of Text.
	ID string `json:"id"`
	// Text is the chunk text.
	Text string `json:"text"`
	// Embedding is the chunk vector.
	Embedding []float32 `json:"embedding"`
	// SourceFilename is the original upload name.
	SourceFilename string `json:"source_filename"`
	// FileUUID is the registry id of the source file.
	FileUUID string `json:"file_uuid"`
	// KBUUID is the owning knowledge base id.
	KBUUID string `json:"kb_uuid"`
}

// Match is one query result.
type Match struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	SourceFilename string  `json:"source_filename"`
	FileUUID       string  `json:"file_uuid"`
	Similarity     float64 `json:"similarity"`
}
