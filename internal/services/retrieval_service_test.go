package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knosi/internal/core"
	db "github.com/markdave123-py/knosi/internal/core/database"
	"github.com/markdave123-py/knosi/internal/models"
)

// axisEmbedder maps a text to a unit vector chosen by its first keyword.
type axisEmbedder struct{}

func (axisEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "go"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(t, "rust"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (axisEmbedder) Dimension() int { return 3 }

type recordingLLM struct {
	system, user string
	answer       string
	err          error
}

func (r *recordingLLM) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	r.system, r.user = systemPrompt, userPrompt
	return r.answer, r.err
}

func index(t *testing.T, store *db.MemoryClient, filename string, contents ...string) {
	t.Helper()
	vecs, _ := axisEmbedder{}.EmbedTexts(context.Background(), contents)
	chunks := make([]models.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = models.Chunk{Filename: filename, ChunkIndex: i, Content: c, Embedding: vecs[i]}
	}
	doc := &models.Document{Filename: filename, FileHash: "h", ChunkCount: len(chunks)}
	require.NoError(t, store.ReplaceDocument(context.Background(), nil, doc, chunks))
}

func TestSearchEmptyIndex(t *testing.T) {
	s := NewRetrievalService(db.NewMemoryClient(), axisEmbedder{}, &recordingLLM{}, nil)
	hits, err := s.Search(context.Background(), "test query", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	s := NewRetrievalService(db.NewMemoryClient(), axisEmbedder{}, nil, nil)
	_, err := s.Search(context.Background(), "   ", 3)
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestSearchRanksAndTruncates(t *testing.T) {
	store := db.NewMemoryClient()
	long := "go " + strings.Repeat("é", 600)
	index(t, store, "lang/go.md", long)
	index(t, store, "lang/rust.md", "rust ownership")

	s := NewRetrievalService(store, axisEmbedder{}, nil, nil)
	hits, err := s.Search(context.Background(), "go channels", 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "lang/go.md", hits[0].Filename)
	assert.Equal(t, 503, len([]rune(hits[0].Content)))
	assert.True(t, strings.HasSuffix(hits[0].Content, "..."))
	assert.Equal(t, "rust ownership", hits[1].Content)
}

func TestChatWithEmptyIndexReturnsCannedAnswer(t *testing.T) {
	llm := &recordingLLM{answer: "unused"}
	s := NewRetrievalService(db.NewMemoryClient(), axisEmbedder{}, llm, nil)

	ans, err := s.Chat(context.Background(), "what is go?", true)
	require.NoError(t, err)
	assert.Equal(t, "No documents have been indexed yet. Upload some documents first.", ans.Response)
	assert.Empty(t, ans.Sources)
	assert.Empty(t, llm.user)
}

func TestChatBuildsContextAndDedupesSources(t *testing.T) {
	store := db.NewMemoryClient()
	index(t, store, "notes/go.md", "go routines", "go channels")
	index(t, store, "/tmp/rust.pdf", "rust borrowck")

	llm := &recordingLLM{answer: "Goroutines are cheap."}
	s := NewRetrievalService(store, axisEmbedder{}, llm, nil)

	ans, err := s.Chat(context.Background(), "go question", true)
	require.NoError(t, err)
	assert.Equal(t, "Goroutines are cheap.", ans.Response)
	assert.Equal(t, []models.Source{
		{Filename: "notes/go.md", ChunkIndex: 0, SourceType: "vault"},
		{Filename: "/tmp/rust.pdf", ChunkIndex: 0, SourceType: "external"},
	}, ans.Sources)

	assert.Equal(t, chatSystemPrompt, llm.system)
	assert.True(t, strings.HasPrefix(llm.user, "Context from your documents:\n\n[Source: notes/go.md]\ngo routines\n\n---\n\n[Source: notes/go.md]\ngo channels"))
	assert.True(t, strings.HasSuffix(llm.user, "\n\n---\n\nQuestion: go question"))
}

func TestChatWithoutSources(t *testing.T) {
	store := db.NewMemoryClient()
	index(t, store, "a.md", "go")
	s := NewRetrievalService(store, axisEmbedder{}, &recordingLLM{answer: "ok"}, nil)

	ans, err := s.Chat(context.Background(), "go", false)
	require.NoError(t, err)
	assert.NotNil(t, ans.Sources)
	assert.Empty(t, ans.Sources)
}

func TestChatGenerationFailure(t *testing.T) {
	store := db.NewMemoryClient()
	index(t, store, "a.md", "go")
	s := NewRetrievalService(store, axisEmbedder{}, &recordingLLM{err: errors.New("quota exceeded")}, nil)

	_, err := s.Chat(context.Background(), "go", true)
	require.Error(t, err)
	assert.Equal(t, 500, core.HTTPStatus(err))
	assert.Equal(t, "chat failed", core.PublicMessage(err))
}
