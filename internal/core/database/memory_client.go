package db

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/models"
)

var _ core.DbClient = (*MemoryClient)(nil)

// MemoryClient keeps documents and chunks in process memory and searches them by brute-force cosine distance.
type MemoryClient struct {
	mu     sync.RWMutex
	nextID int64
	docs   map[string]*models.Document // by filename
	chunks map[int64][]models.Chunk    // by document id
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		docs:   make(map[string]*models.Document),
		chunks: make(map[int64][]models.Chunk),
	}
}

func (m *MemoryClient) Close() error { return nil }

func (m *MemoryClient) GetDocumentByFilename(_ context.Context, filename string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[filename]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryClient) ListDocuments(context.Context) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IndexedAt.Equal(out[j].IndexedAt) {
			return out[i].IndexedAt.After(out[j].IndexedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryClient) ReplaceDocument(_ context.Context, old *models.Document, doc *models.Document, chunks []models.Chunk) error {
	if doc == nil {
		return errors.New("nil document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if old != nil {
		delete(m.chunks, old.ID)
		if cur, ok := m.docs[old.Filename]; ok && cur.ID == old.ID {
			delete(m.docs, old.Filename)
		}
	}
	if _, taken := m.docs[doc.Filename]; taken {
		return core.InternalError(nil, "document %s already exists", doc.Filename)
	}

	m.nextID++
	doc.ID = m.nextID
	doc.IndexedAt = time.Now().UTC()
	stored := make([]models.Chunk, len(chunks))
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		stored[i] = chunks[i]
		stored[i].ID = int64(i + 1)
	}
	cp := *doc
	m.docs[doc.Filename] = &cp
	m.chunks[doc.ID] = stored
	return nil
}

func (m *MemoryClient) DeleteDocumentByFilename(_ context.Context, filename string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[filename]
	if !ok {
		return nil, core.NotFoundError("document not found: %s", filename)
	}
	delete(m.docs, filename)
	delete(m.chunks, d.ID)
	return d, nil
}

func (m *MemoryClient) SearchChunks(_ context.Context, queryVec []float32, limit int) ([]models.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.ScoredChunk{}
	for _, chunks := range m.chunks {
		for _, c := range chunks {
			out = append(out, models.ScoredChunk{
				Filename:   c.Filename,
				Content:    c.Content,
				ChunkIndex: c.ChunkIndex,
				Distance:   cosineDistance(queryVec, c.Embedding),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if out[i].Filename != out[j].Filename {
			return out[i].Filename < out[j].Filename
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryClient) Stats(context.Context) (models.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := models.IndexStats{DocumentCount: len(m.docs)}
	for _, c := range m.chunks {
		s.ChunkCount += len(c)
	}
	return s, nil
}

// cosineDistance is 1 - cos(a, b); a zero vector is at distance 1 from everything.
func cosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
