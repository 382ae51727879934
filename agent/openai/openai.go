// Package openai implements the reasoning agent on OpenAI's chat API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/keplerhq/kepler/agent"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

// Agent implements agent.Agent using the official openai-go client.
//
// Tool calls are executed locally and returned as tool messages until the
// model produces a final answer or the step budget runs out. Safe for
// concurrent use.
type Agent struct {
	client *sdk.Client
	model  string
}

// New creates an OpenAI-backed reasoning agent.
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

	messages := []sdk.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, sdk.SystemMessage(req.System))
	}
	messages = append(messages, sdk.UserMessage(req.Prompt+"\n\n"+agent.SchemaPrompt(req.Kind)))

	for step := 0; step < budget; step++ {
		params := sdk.ChatCompletionNewParams{
			Model:    shared.ChatModel(a.model),
			Messages: messages,
		}
		if len(req.Tools) > 0 {
			params.Tools = convertTools(req.Tools)
		} else {
			// Without tools we can demand a JSON object directly.
			params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: sdk.Ptr(shared.NewResponseFormatJSONObjectParam()),
			}
		}

		completion, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return agent.Output{}, fmt.Errorf("openai invocation failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return agent.Output{}, fmt.Errorf("openai returned no choices")
		}

		choice := completion.Choices[0].Message
		if len(choice.ToolCalls) == 0 {
			return agent.ParseOutput(req.Kind, choice.Content)
		}

		messages = append(messages, choice.ToParam())
		for _, call := range choice.ToolCalls {
			messages = append(messages, a.runTool(ctx, toolIndex, call))
		}
	}

	return agent.Output{}, fmt.Errorf("step budget of %d exhausted without a final answer", budget)
}

func (a *Agent) runTool(ctx context.Context, tools map[string]agent.Tool, call sdk.ChatCompletionMessageToolCall) sdk.ChatCompletionMessageParamUnion {
	tool, ok := tools[call.Function.Name]
	if !ok {
		return sdk.ToolMessage("unknown tool: "+call.Function.Name, call.ID)
	}

	var input map[string]interface{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
			return sdk.ToolMessage("invalid tool input: "+err.Error(), call.ID)
		}
	}

	result, err := tool.Call(ctx, input)
	if err != nil {
		return sdk.ToolMessage("tool error: "+err.Error(), call.ID)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return sdk.ToolMessage("failed to encode tool result: "+err.Error(), call.ID)
	}
	return sdk.ToolMessage(string(payload), call.ID)
}

func convertTools(tools []agent.Tool) []sdk.ChatCompletionToolParam {
	converted := make([]sdk.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		converted = append(converted, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name(),
				Description: sdk.String(tool.Description()),
				Parameters:  shared.FunctionParameters(tool.InputSchema()),
			},
		})
	}
	return converted
}
