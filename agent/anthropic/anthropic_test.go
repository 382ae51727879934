package anthropic

import (
	"context"
	"testing"

	"github.com/keplerhq/kepler/agent"
)

type stubTool struct {
	name   string
	schema map[string]interface{}
}

func (s *stubTool) Name() string                        { return s.name }
func (s *stubTool) Description() string                 { return "stub" }
func (s *stubTool) InputSchema() map[string]interface{} { return s.schema }
func (s *stubTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return nil, nil
}

func TestConvertToolsCarriesRequiredFields(t *testing.T) {
	tools := []agent.Tool{
		&stubTool{name: "exec_command", schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{"type": "string"},
			},
			"required": []string{"command"},
		}},
		&stubTool{name: "read_file", schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			// Shape a schema takes after a JSON round trip.
			"required": []interface{}{"path"},
		}},
		&stubTool{name: "no_args", schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}},
	}

	converted := convertTools(tools)
	if len(converted) != 3 {
		t.Fatalf("expected 3 converted tools, got %d", len(converted))
	}

	exec := converted[0].OfTool
	if exec == nil || exec.Name != "exec_command" {
		t.Fatalf("unexpected first tool: %+v", converted[0])
	}
	if len(exec.InputSchema.Required) != 1 || exec.InputSchema.Required[0] != "command" {
		t.Errorf("exec_command required = %v, want [command]", exec.InputSchema.Required)
	}

	read := converted[1].OfTool
	if len(read.InputSchema.Required) != 1 || read.InputSchema.Required[0] != "path" {
		t.Errorf("read_file required = %v, want [path]", read.InputSchema.Required)
	}

	if got := converted[2].OfTool.InputSchema.Required; len(got) != 0 {
		t.Errorf("no_args required = %v, want empty", got)
	}
}
