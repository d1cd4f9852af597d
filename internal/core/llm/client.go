package llm

import (
	"context"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/knosi/internal/core"
)

// NewGeminiClient opens the client shared by the embedder, the generator and the vision extractor.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, core.ConfigurationError("GEMINI_API_KEY is not set")
	}
	return genai.NewClient(ctx, option.WithAPIKey(apiKey))
}
