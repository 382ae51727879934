// Package sandbox defines the remote execution workspace collaborator:
// command execution and file reads over cloned repositories.
package sandbox

import (
	"context"

	"github.com/keplerhq/kepler/insight"
)

// AcquireAction reports how a repository landed in the workspace.
type AcquireAction string

const (
	// ActionFetched means the repository was cloned fresh.
	ActionFetched AcquireAction = "fetched"

	// ActionRefreshed means an existing clone was updated.
	ActionRefreshed AcquireAction = "refreshed"
)

// Workspace describes the remote workspace for one project.
type Workspace struct {
	Ready bool `json:"ready"`
}

// ExecResult is the outcome of one command execution in the workspace.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Client is the remote workspace collaborator.
//
// The one writing phase (repository acquisition) runs strictly before any
// fan-out, so concurrent branches may share the workspace without locking:
// every branch operation (exec, read) is read-only.
type Client interface {
	// CreateOrReuseWorkspace ensures the project's workspace exists.
	CreateOrReuseWorkspace(ctx context.Context, projectID string) (Workspace, error)

	// ExecCommand runs a shell command inside the workspace.
	ExecCommand(ctx context.Context, projectID, command string) (ExecResult, error)

	// ReadFile returns the content of a file in the workspace.
	ReadFile(ctx context.Context, projectID, path string) (string, error)

	// AcquireRepository clones the repository if absent, refreshes it if
	// present. The credential is used for private clone URLs; empty means
	// anonymous access.
	AcquireRepository(ctx context.Context, projectID string, repo insight.Repository, credential string) (AcquireAction, error)
}
