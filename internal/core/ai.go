package core

import "context"

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// ExtractionResult is the text returned by a vision-capable model plus its token usage.
type ExtractionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// VisionExtractor transcribes a binary payload (PDF or image) following a natural-language instruction.
// Implementations classify failures as UpstreamTimeout, UpstreamPolicy or plain errors.
type VisionExtractor interface {
	ExtractFromBinary(ctx context.Context, data []byte, mimeType, instruction string) (*ExtractionResult, error)
}
