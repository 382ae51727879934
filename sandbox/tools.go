package sandbox

import (
	"context"
	"fmt"

	"github.com/keplerhq/kepler/agent"
)

// Tools adapts the workspace's read-only operations into reasoning-agent
// tools for one project. The reasoning model uses them to explore the
// repositories within its step budget.
func Tools(client Client, projectID string) []agent.Tool {
	return []agent.Tool{
		&execTool{client: client, projectID: projectID},
		&readFileTool{client: client, projectID: projectID},
	}
}

type execTool struct {
	client    Client
	projectID string
}

func (t *execTool) Name() string { return "exec_command" }

func (t *execTool) Description() string {
	return "Run a read-only shell command (ls, grep, find, cat, wc) inside the cloned repositories and return stdout, stderr, and the exit code."
}

func (t *execTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *execTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	command, ok := input["command"].(string)
	if !ok || command == "" {
		return nil, fmt.Errorf("command parameter required (string)")
	}

	result, err := t.client.ExecCommand(ctx, t.projectID, command)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"exit_code": result.ExitCode,
	}, nil
}

type readFileTool struct {
	client    Client
	projectID string
}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Description() string {
	return "Read a file from the cloned repositories and return its content."
}

func (t *readFileTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to read, relative to the workspace root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *readFileTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	path, ok := input["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("path parameter required (string)")
	}

	content, err := t.client.ReadFile(ctx, t.projectID, path)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"content": content}, nil
}
