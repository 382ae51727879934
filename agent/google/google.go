// Package google implements the reasoning agent on Google's Gemini API.
package google

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/keplerhq/kepler/agent"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// Agent implements agent.Agent using the official generative-ai-go client.
//
// Gemini enforces structured output natively through a response schema, so
// the invocation is a single generate call; tool use is not wired for this
// provider and the step budget only caps the one model turn.
type Agent struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed reasoning agent.
func New(ctx context.Context, apiKey, model string) (*Agent, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	return &Agent{client: client, model: model}, nil
}

// Close releases the underlying client.
func (a *Agent) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Invoke implements the agent.Agent interface.
func (a *Agent) Invoke(ctx context.Context, req agent.Request) (agent.Output, error) {
	model := a.client.GenerativeModel(a.model)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = responseSchema(req.Kind)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return agent.Output{}, fmt.Errorf("google invocation failed: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return agent.Output{}, err
	}
	return agent.ParseOutput(req.Kind, text)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("google returned no candidates")
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return "", fmt.Errorf("google returned no text content")
	}
	return text, nil
}

func responseSchema(kind agent.OutputKind) *genai.Schema {
	switch kind {
	case agent.KindTopics:
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"topics": {
					Type: genai.TypeArray,
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"name":        {Type: genai.TypeString},
							"description": {Type: genai.TypeString},
						},
						Required: []string{"name"},
					},
				},
			},
			Required: []string{"topics"},
		}
	case agent.KindItems:
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"items": {
					Type: genai.TypeArray,
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"topic":       {Type: genai.TypeString},
							"title":       {Type: genai.TypeString},
							"description": {Type: genai.TypeString},
							"query":       {Type: genai.TypeString},
						},
						Required: []string{"topic", "title"},
					},
				},
			},
			Required: []string{"items"},
		}
	case agent.KindVerdict:
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"approved":  {Type: genai.TypeBoolean},
				"reasoning": {Type: genai.TypeString},
			},
			Required: []string{"approved"},
		}
	default:
		return nil
	}
}
