package models

import (
	"time"
)

// Document is one indexed source file, keyed by its filename (vault-relative path or upload name).
type Document struct {
	ID         int64     `db:"id" json:"-"`
	Filename   string    `db:"filename" json:"filename"`
	FileHash   string    `db:"file_hash" json:"file_hash"`
	FileSize   int64     `db:"file_size" json:"file_size"`
	StorageKey string    `db:"storage_key" json:"-"` // object storage key of the original, empty if not kept
	ChunkCount int       `db:"chunk_count" json:"chunk_count"`
	IndexedAt  time.Time `db:"indexed_at" json:"indexed_at"`
}

// Chunk is one span of a document's extracted text together with its embedding.
type Chunk struct {
	ID         int64     `db:"id" json:"id"`
	DocumentID int64     `db:"document_id" json:"document_id"`
	Filename   string    `db:"filename" json:"filename"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Content    string    `db:"content" json:"content"`
	Embedding  []float32 `db:"embedding" json:"-"` // pgvector column
}

// ScoredChunk is a chunk returned by similarity search; lower distance is closer.
type ScoredChunk struct {
	Filename   string
	Content    string
	ChunkIndex int
	Distance   float64
}

// SearchHit is a search result as shown to callers.
type SearchHit struct {
	Filename   string `json:"filename"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
}

// Source is a document cited by a chat answer.
type Source struct {
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	SourceType string `json:"source_type"` // "vault" or "external"
}

// ChatAnswer is the generated answer and the deduplicated sources it was built from.
type ChatAnswer struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
}

// IngestStatus is the outcome of one ingestion.
type IngestStatus string

const (
	IngestUnchanged IngestStatus = "unchanged"
	IngestCreated   IngestStatus = "created"
	IngestUpdated   IngestStatus = "updated"
)

// IngestResult is returned to the uploader.
type IngestResult struct {
	Filename   string       `json:"filename"`
	Status     IngestStatus `json:"status"`
	ChunkCount int          `json:"chunks"`
	JobID      string       `json:"upload_id"`
}

// IndexStats holds the row counts reported by the status endpoint.
type IndexStats struct {
	DocumentCount int `json:"document_count"`
	ChunkCount    int `json:"chunk_count"`
}
