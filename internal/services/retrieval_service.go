package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/models"
)

const (
	chatTopK           = 5
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	snippetRunes       = 500

	noDocumentsAnswer = "No documents have been indexed yet. Upload some documents first."
)

const chatSystemPrompt = `You are an interactive research assistant helping a user explore their personal knowledge base.

Your role is to:
1. Answer the user's question using the provided context
2. Proactively guide deeper exploration by asking follow-up questions
3. Identify gaps or related topics that might interest them
4. Act like a conversation partner, not just an information retrieval system

Guidelines:
- Be concise but thorough in your answers
- Always cite sources by mentioning filenames
- After answering, ask 2-3 thoughtful follow-up questions that:
  * Explore deeper aspects of the topic
  * Connect to related themes that might be in their library
  * Identify potential gaps in the available information
- If you notice the context is incomplete or raises interesting questions, point that out
- Be curious and engaging - guide the conversation like a research partner would

Example response structure:
[Your answer with citations]

**Want to explore further?**
- [Follow-up question 1 about a specific detail]
- [Follow-up question 2 connecting to related topics]
- [Follow-up question 3 or observation about gaps]`

// RetrievalService answers semantic searches and grounded chat questions over the indexed chunks.
type RetrievalService struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
	log      *slog.Logger
}

func NewRetrievalService(db core.DbClient, emb core.EmbeddingProvider, llm core.LLMProvider, log *slog.Logger) *RetrievalService {
	if log == nil {
		log = slog.Default()
	}
	return &RetrievalService{db: db, embedder: emb, llm: llm, log: log}
}

// nearest embeds query and returns the closest chunks.
func (s *RetrievalService) nearest(ctx context.Context, query string, limit int) ([]models.ScoredChunk, error) {
	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, core.InternalError(nil, "embedding service returned %d vectors for one query", len(vecs))
	}
	return s.db.SearchChunks(ctx, vecs[0], limit)
}

// Search returns up to limit chunks ranked by similarity, with content cut to a snippet.
func (s *RetrievalService) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.ValidationError("Query cannot be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	chunks, err := s.nearest(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]models.SearchHit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, models.SearchHit{Filename: c.Filename, Content: snippet(c.Content), ChunkIndex: c.ChunkIndex})
	}
	return hits, nil
}

func snippet(content string) string {
	r := []rune(content)
	if len(r) <= snippetRunes {
		return content
	}
	return string(r[:snippetRunes]) + "..."
}

// Chat answers message from the closest chunks. Sources are listed once per document.
func (s *RetrievalService) Chat(ctx context.Context, message string, includeSources bool) (*models.ChatAnswer, error) {
	if strings.TrimSpace(message) == "" {
		return nil, core.ValidationError("Message cannot be empty")
	}
	if s.llm == nil {
		return nil, core.ConfigurationError("no generation model configured")
	}

	chunks, err := s.nearest(ctx, message, chatTopK)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &models.ChatAnswer{Response: noDocumentsAnswer, Sources: []models.Source{}}, nil
	}

	blocks := make([]string, 0, len(chunks))
	sources := []models.Source{}
	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		blocks = append(blocks, fmt.Sprintf("[Source: %s]\n%s", c.Filename, c.Content))
		if seen[c.Filename] {
			continue
		}
		seen[c.Filename] = true
		sources = append(sources, models.Source{Filename: c.Filename, ChunkIndex: c.ChunkIndex, SourceType: sourceType(c.Filename)})
	}

	prompt := fmt.Sprintf("Context from your documents:\n\n%s\n\n---\n\nQuestion: %s", strings.Join(blocks, "\n\n---\n\n"), message)
	answer, err := s.llm.Generate(ctx, chatSystemPrompt, prompt)
	if err != nil {
		s.log.Error("chat generation failed", "error", err)
		return nil, core.InternalError(err, "chat failed")
	}

	if !includeSources {
		sources = []models.Source{}
	}
	return &models.ChatAnswer{Response: answer, Sources: sources}, nil
}

// sourceType tells vault-relative paths from absolute paths of external uploads.
func sourceType(filename string) string {
	if strings.HasPrefix(filename, "/") || strings.HasPrefix(filename, `\`) {
		return "external"
	}
	return "vault"
}
