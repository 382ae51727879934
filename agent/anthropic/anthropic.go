// Package anthropic implements the reasoning agent on Anthropic's Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/keplerhq/kepler/agent"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

const maxTokens = 4096

// Agent implements agent.Agent using the official anthropic-sdk-go client.
//
// Tool calls requested by the model are executed locally and fed back as
// tool results; the loop runs until the model produces a final text answer
// or the request's step budget is exhausted. Safe for concurrent use.
type Agent struct {
	client *sdk.Client
	model  string
}

// New creates an Anthropic-backed reasoning agent.
func New(apiKey, model string) *Agent {
	if model == "" {
		model = DefaultModel
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Agent{client: &client, model: model}
}

// Invoke implements the agent.Agent interface.
func (a *Agent) Invoke(ctx context.Context, req agent.Request) (agent.Output, error) {
	budget := req.StepBudget
	if budget <= 0 {
		budget = 1
	}

	toolIndex := make(map[string]agent.Tool, len(req.Tools))
	for _, tool := range req.Tools {
		toolIndex[tool.Name()] = tool
	}

	prompt := req.Prompt + "\n\n" + agent.SchemaPrompt(req.Kind)
	messages := []sdk.MessageParam{
		sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
	}

	for step := 0; step < budget; step++ {
		params := sdk.MessageNewParams{
			Model:     sdk.Model(a.model),
			MaxTokens: maxTokens,
			Messages:  messages,
		}
		if req.System != "" {
			params.System = []sdk.TextBlockParam{{Text: req.System}}
		}
		if len(req.Tools) > 0 {
			params.Tools = convertTools(req.Tools)
		}

		message, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return agent.Output{}, fmt.Errorf("anthropic invocation failed: %w", err)
		}

		var text strings.Builder
		var toolUses []toolUse
		for _, block := range message.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				toolUses = append(toolUses, toolUse{id: block.ID, name: block.Name, input: block.Input})
			}
		}

		if len(toolUses) == 0 {
			return agent.ParseOutput(req.Kind, text.String())
		}

		messages = append(messages, message.ToParam())
		results := make([]sdk.ContentBlockParamUnion, 0, len(toolUses))
		for _, use := range toolUses {
			results = append(results, a.runTool(ctx, toolIndex, use))
		}
		messages = append(messages, sdk.NewUserMessage(results...))
	}

	return agent.Output{}, fmt.Errorf("step budget of %d exhausted without a final answer", budget)
}

type toolUse struct {
	id    string
	name  string
	input json.RawMessage
}

func (a *Agent) runTool(ctx context.Context, tools map[string]agent.Tool, use toolUse) sdk.ContentBlockParamUnion {
	tool, ok := tools[use.name]
	if !ok {
		return sdk.NewToolResultBlock(use.id, "unknown tool: "+use.name, true)
	}

	var input map[string]interface{}
	if len(use.input) > 0 {
		if err := json.Unmarshal(use.input, &input); err != nil {
			return sdk.NewToolResultBlock(use.id, "invalid tool input: "+err.Error(), true)
		}
	}

	result, err := tool.Call(ctx, input)
	if err != nil {
		return sdk.NewToolResultBlock(use.id, err.Error(), true)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return sdk.NewToolResultBlock(use.id, "failed to encode tool result: "+err.Error(), true)
	}
	return sdk.NewToolResultBlock(use.id, string(payload), false)
}

func convertTools(tools []agent.Tool) []sdk.ToolUnionParam {
	converted := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := tool.InputSchema()
		converted = append(converted, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        tool.Name(),
				Description: sdk.String(tool.Description()),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: schema["properties"],
					Required:   requiredFields(schema),
				},
			},
		})
	}
	return converted
}

// requiredFields extracts a schema's required parameter list, tolerating
// both typed and decoded-JSON shapes.
func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		fields := make([]string, 0, len(req))
		for _, field := range req {
			if name, ok := field.(string); ok {
				fields = append(fields, name)
			}
		}
		return fields
	default:
		return nil
	}
}
