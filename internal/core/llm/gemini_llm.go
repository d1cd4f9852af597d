package llm

import (
	"context"

	"github.com/google/generative-ai-go/genai"

	"github.com/markdave123-py/knosi/internal/core"
)

var _ core.LLMProvider = (*GeminiLLM)(nil)

type GeminiLLM struct {
	client    *genai.Client
	modelName string
	gate      *Gate
}

func NewGeminiLLM(client *genai.Client, modelName string, gate *Gate) *GeminiLLM {
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: client, modelName: modelName, gate: gate}
}

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	var resp *genai.GenerateContentResponse
	err := g.gate.Do(ctx, "generate", func(ctx context.Context) error {
		var err error
		resp, err = m.GenerateContent(ctx, genai.Text(userPrompt))
		return classify(ctx, err, "generate")
	})
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}
