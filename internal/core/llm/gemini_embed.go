package llm

import (
	"context"

	"github.com/google/generative-ai-go/genai"

	"github.com/markdave123-py/knosi/internal/core"
)

// maxEmbedBatch is the largest request BatchEmbedContents accepts.
const maxEmbedBatch = 100

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

type GeminiEmbedder struct {
	dim  int
	gate *Gate
	// embedBatch sends one request of at most maxEmbedBatch texts.
	embedBatch func(ctx context.Context, texts []string) ([][]float32, error)
}

func NewGeminiEmbedder(client *genai.Client, modelName string, dim int, gate *Gate) *GeminiEmbedder {
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	em := client.EmbeddingModel(modelName)
	return &GeminiEmbedder{
		dim:  dim,
		gate: gate,
		embedBatch: func(ctx context.Context, texts []string) ([][]float32, error) {
			batch := em.NewBatch()
			for _, t := range texts {
				batch.AddContent(genai.Text(t))
			}
			resp, err := em.BatchEmbedContents(ctx, batch)
			if err != nil {
				return nil, err
			}
			out := make([][]float32, 0, len(resp.Embeddings))
			for _, e := range resp.Embeddings {
				out = append(out, e.Values)
			}
			return out, nil
		},
	}
}

func (g *GeminiEmbedder) Dimension() int { return g.dim }

// EmbedTexts returns one vector per text, in input order, batching requests as needed.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))
		batch := texts[start:end]

		var vecs [][]float32
		err := g.gate.Do(ctx, "embed", func(ctx context.Context) error {
			var err error
			vecs, err = g.embedBatch(ctx, batch)
			return classify(ctx, err, "embed")
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, core.InternalError(nil, "embedding service returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for _, v := range vecs {
			if g.dim > 0 && len(v) != g.dim {
				return nil, core.ConfigurationError("embedding model returned %d dimensions but the index expects %d", len(v), g.dim)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}
