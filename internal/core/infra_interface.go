package core

import (
	"context"
	"io"

	"github.com/markdave123-py/knosi/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	GetDocumentByFilename(ctx context.Context, filename string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)

	// ReplaceDocument removes old (if non-nil) with its chunks and inserts doc with chunks, atomically.
	// doc.ID and the chunks' DocumentID are filled in on success.
	ReplaceDocument(ctx context.Context, old *models.Document, doc *models.Document, chunks []models.Chunk) error
	DeleteDocumentByFilename(ctx context.Context, filename string) (*models.Document, error)

	SearchChunks(ctx context.Context, queryVec []float32, limit int) ([]models.ScoredChunk, error)
	Stats(ctx context.Context) (models.IndexStats, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
}
