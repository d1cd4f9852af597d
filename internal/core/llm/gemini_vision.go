package llm

import (
	"context"
	"log/slog"

	"github.com/google/generative-ai-go/genai"

	"github.com/markdave123-py/knosi/internal/core"
)

var _ core.VisionExtractor = (*GeminiVision)(nil)

// GeminiVision sends PDFs and images inline to a multimodal model and returns its transcription.
type GeminiVision struct {
	client    *genai.Client
	modelName string
	gate      *Gate
	log       *slog.Logger
}

func NewGeminiVision(client *genai.Client, modelName string, gate *Gate, log *slog.Logger) *GeminiVision {
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	if log == nil {
		log = slog.Default()
	}
	return &GeminiVision{client: client, modelName: modelName, gate: gate, log: log}
}

func (g *GeminiVision) ExtractFromBinary(ctx context.Context, data []byte, mimeType, instruction string) (*core.ExtractionResult, error) {
	m := g.client.GenerativeModel(g.modelName)

	var resp *genai.GenerateContentResponse
	err := g.gate.Do(ctx, "extract", func(ctx context.Context) error {
		var err error
		resp, err = m.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(instruction))
		return classify(ctx, err, "extract")
	})
	if err != nil {
		return nil, err
	}

	res := &core.ExtractionResult{Text: responseText(resp)}
	if u := resp.UsageMetadata; u != nil {
		res.InputTokens = int(u.PromptTokenCount)
		res.OutputTokens = int(u.CandidatesTokenCount)
	}
	g.log.Info("vision extraction", "mime", mimeType, "bytes", len(data), "input_tokens", res.InputTokens, "output_tokens", res.OutputTokens)
	return res, nil
}
