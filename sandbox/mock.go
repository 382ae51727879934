package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/keplerhq/kepler/insight"
)

// MockClient is a test implementation of Client.
//
// Workspace creation and repository acquisition can be failed selectively;
// exec and read-file return scripted results. Safe for concurrent use.
type MockClient struct {
	mu sync.Mutex

	// WorkspaceErr, if set, fails CreateOrReuseWorkspace.
	WorkspaceErr error

	// FailRepos names repositories whose acquisition fails.
	FailRepos map[string]bool

	// Known marks repositories already present (acquisition refreshes
	// instead of fetching).
	Known map[string]bool

	// ExecResults maps command -> scripted result.
	ExecResults map[string]ExecResult

	// Files maps path -> content.
	Files map[string]string

	// Acquired records repository names in acquisition order.
	Acquired []string
}

// CreateOrReuseWorkspace implements the Client interface.
func (m *MockClient) CreateOrReuseWorkspace(ctx context.Context, projectID string) (Workspace, error) {
	if m.WorkspaceErr != nil {
		return Workspace{}, m.WorkspaceErr
	}
	return Workspace{Ready: true}, nil
}

// ExecCommand implements the Client interface.
func (m *MockClient) ExecCommand(ctx context.Context, projectID, command string) (ExecResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result, ok := m.ExecResults[command]; ok {
		return result, nil
	}
	return ExecResult{ExitCode: 0}, nil
}

// ReadFile implements the Client interface.
func (m *MockClient) ReadFile(ctx context.Context, projectID, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.Files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

// AcquireRepository implements the Client interface.
func (m *MockClient) AcquireRepository(ctx context.Context, projectID string, repo insight.Repository, credential string) (AcquireAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailRepos[repo.Name] {
		return "", fmt.Errorf("failed to acquire %s", repo.Name)
	}
	m.Acquired = append(m.Acquired, repo.Name)
	if m.Known[repo.Name] {
		return ActionRefreshed, nil
	}
	return ActionFetched, nil
}
