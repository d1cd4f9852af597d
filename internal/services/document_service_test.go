package services

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knosi/internal/core"
	db "github.com/markdave123-py/knosi/internal/core/database"
	"github.com/markdave123-py/knosi/internal/models"
)

type memObjects struct {
	objects map[string][]byte
}

func (m *memObjects) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.objects[key] = data
	return key, nil
}

func (m *memObjects) DeleteFile(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memObjects) GetFile(_ context.Context, key string) ([]byte, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, core.NotFoundError("object not found: %s", key)
	}
	return b, nil
}

func (m *memObjects) GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error) {
	b, err := m.GetFile(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func seedDoc(t *testing.T, store *db.MemoryClient, filename, key string) {
	t.Helper()
	doc := &models.Document{Filename: filename, FileHash: "h", FileSize: 5, StorageKey: key, ChunkCount: 1}
	chunks := []models.Chunk{{Filename: filename, Content: "hello", Embedding: []float32{1}}}
	require.NoError(t, store.ReplaceDocument(context.Background(), nil, doc, chunks))
}

func TestDocumentDeleteRemovesOriginal(t *testing.T) {
	store := db.NewMemoryClient()
	objects := &memObjects{objects: map[string][]byte{"originals/h/a.md": []byte("hello")}}
	seedDoc(t, store, "notes/a.md", "originals/h/a.md")
	s := NewDocumentService(store, objects, nil)

	doc, err := s.Delete(context.Background(), "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.Empty(t, objects.objects)

	_, err = s.Delete(context.Background(), "notes/a.md")
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestDocumentDownload(t *testing.T) {
	store := db.NewMemoryClient()
	objects := &memObjects{objects: map[string][]byte{"originals/h/a.md": []byte("hello")}}
	seedDoc(t, store, "notes/a.md", "originals/h/a.md")
	s := NewDocumentService(store, objects, nil)

	orig, err := s.Download(context.Background(), "notes/a.md")
	require.NoError(t, err)
	defer orig.Body.Close()
	assert.Equal(t, "a.md", orig.Name)
	body, err := io.ReadAll(orig.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	_, err = s.Download(context.Background(), "missing.md")
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestDocumentDownloadWithoutStorage(t *testing.T) {
	store := db.NewMemoryClient()
	seedDoc(t, store, "a.md", "")
	s := NewDocumentService(store, nil, nil)

	_, err := s.Download(context.Background(), "a.md")
	require.Error(t, err)
	assert.Equal(t, 404, core.HTTPStatus(err))
}

func TestDocumentListAndStats(t *testing.T) {
	store := db.NewMemoryClient()
	seedDoc(t, store, "a.md", "")
	seedDoc(t, store, "b.md", "")
	s := NewDocumentService(store, nil, nil)

	docs, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.IndexStats{DocumentCount: 2, ChunkCount: 2}, stats)
}
