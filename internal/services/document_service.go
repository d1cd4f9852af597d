package services

import (
	"context"
	"io"
	"log/slog"
	"path"

	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/models"
)

// DocumentService manages indexed documents and their stored originals.
type DocumentService struct {
	db      core.DbClient
	storage core.ObjectClient
	log     *slog.Logger
}

// NewDocumentService builds the service; storage may be nil when originals are not kept.
func NewDocumentService(db core.DbClient, storage core.ObjectClient, log *slog.Logger) *DocumentService {
	if log == nil {
		log = slog.Default()
	}
	return &DocumentService{db: db, storage: storage, log: log}
}

func (s *DocumentService) List(ctx context.Context) ([]models.Document, error) {
	return s.db.ListDocuments(ctx)
}

func (s *DocumentService) Stats(ctx context.Context) (models.IndexStats, error) {
	return s.db.Stats(ctx)
}

// Delete removes the document and its chunks, then its stored original on a best-effort basis.
func (s *DocumentService) Delete(ctx context.Context, filename string) (*models.Document, error) {
	doc, err := s.db.DeleteDocumentByFilename(ctx, filename)
	if err != nil {
		return nil, err
	}
	if s.storage != nil && doc.StorageKey != "" {
		if err := s.storage.DeleteFile(ctx, doc.StorageKey); err != nil {
			s.log.Warn("could not delete stored original", "file", filename, "key", doc.StorageKey, "error", err)
		}
	}
	s.log.Info("document deleted", "file", filename, "chunks", doc.ChunkCount)
	return doc, nil
}

// Original is an open stream over a stored original payload.
type Original struct {
	Name string
	Size int64
	Body io.ReadCloser
}

// Download opens the stored original of filename. The caller closes Body.
func (s *DocumentService) Download(ctx context.Context, filename string) (*Original, error) {
	doc, err := s.db.GetDocumentByFilename(ctx, filename)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, core.NotFoundError("document not found: %s", filename)
	}
	if s.storage == nil || doc.StorageKey == "" {
		return nil, core.NotFoundError("original file not stored for %s", filename)
	}
	body, err := s.storage.GetObjectReader(ctx, doc.StorageKey)
	if err != nil {
		return nil, err
	}
	return &Original{Name: path.Base(doc.Filename), Size: doc.FileSize, Body: body}, nil
}
