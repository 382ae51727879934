// Package run coordinates the lifecycle of a pipeline run: workspace
// setup, repository acquisition, workflow launch, and finalization.
package run

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keplerhq/kepler/broadcast"
	"github.com/keplerhq/kepler/graph"
	"github.com/keplerhq/kepler/insight"
	"github.com/keplerhq/kepler/persist"
	"github.com/keplerhq/kepler/pipeline"
	"github.com/keplerhq/kepler/sandbox"
)

// StartCommand describes a requested pipeline run.
type StartCommand struct {
	// RunID is optional; a UUID is assigned when empty.
	RunID string `json:"run_id,omitempty"`

	// ProjectID identifies the project to analyze.
	ProjectID string `json:"project_id"`

	// Repositories to acquire into the workspace.
	Repositories []insight.Repository `json:"repositories"`

	// Credential is forwarded to the sandbox for private repos.
	Credential string `json:"credential,omitempty"`
}

// Validate checks that the command can be attempted at all.
func (c StartCommand) Validate() error {
	if c.ProjectID == "" {
		return errors.New("project_id is required")
	}
	if len(c.Repositories) == 0 {
		return errors.New("at least one repository is required")
	}
	return nil
}

// Coordinator drives a run from start command to terminal status.
//
// Start performs workspace setup synchronously, then launches the
// workflow in the background. Store writes and broadcasts along the way
// are best-effort: a failing store never fails a run that produced
// results.
type Coordinator struct {
	Store   persist.Store
	Saver   *persist.ProgressiveSaver
	Sandbox sandbox.Client
	Bcast   *broadcast.Registry
	Engine  *graph.Engine[pipeline.RunState]

	// RunTimeout bounds the background workflow. Zero means no limit.
	RunTimeout time.Duration
}

// Start accepts a run command, prepares the workspace, and launches
// the workflow asynchronously. The returned Run reflects the state
// after setup: running when the workflow was launched, failed when
// setup could not complete.
func (c *Coordinator) Start(ctx context.Context, cmd StartCommand) (insight.Run, error) {
	if err := cmd.Validate(); err != nil {
		return insight.Run{}, err
	}

	run := insight.Run{
		ID:        cmd.RunID,
		ProjectID: cmd.ProjectID,
		Status:    insight.StatusPending,
		StartedAt: time.Now(),
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if err := c.Store.CreateRun(ctx, run); err != nil {
		return insight.Run{}, fmt.Errorf("failed to record run: %w", err)
	}

	// Setup counts as the run being underway: the run reads as running
	// while the workspace and repositories are prepared.
	run.Status = insight.StatusRunning
	if err := c.Store.MarkRunStarted(ctx, run.ID); err != nil {
		log.Printf("run %s: failed to mark started: %v", run.ID, err)
	}

	if _, err := c.Sandbox.CreateOrReuseWorkspace(ctx, cmd.ProjectID); err != nil {
		reason := fmt.Sprintf("workspace setup failed: %v", err)
		return c.fail(ctx, run, reason), errors.New(reason)
	}

	acquired, acquireErrs := c.acquireRepos(ctx, run, cmd)
	if len(acquired) == 0 {
		reason := "no repository could be acquired"
		if len(acquireErrs) > 0 {
			reason = fmt.Sprintf("%s: %s", reason, strings.Join(acquireErrs, "; "))
		}
		return c.fail(ctx, run, reason), errors.New(reason)
	}

	c.Bcast.Publish(run.ID, broadcast.Message{
		Type:   broadcast.TypeProgress,
		Stage:  "setup",
		Detail: fmt.Sprintf("workspace ready, %d of %d repositories acquired", len(acquired), len(cmd.Repositories)),
	})

	initial := pipeline.RunState{
		RunID:        run.ID,
		ProjectID:    cmd.ProjectID,
		Repositories: acquired,
		Credential:   cmd.Credential,
		Errors:       acquireErrs,
	}
	go c.execute(run.ID, initial)

	return run, nil
}

// Run retrieves a run's current record.
func (c *Coordinator) Run(ctx context.Context, runID string) (insight.Run, error) {
	return c.Store.GetRun(ctx, runID)
}

// acquireRepos pulls every repository into the workspace. Individual
// failures are collected, not fatal; the caller decides what an empty
// result means.
func (c *Coordinator) acquireRepos(ctx context.Context, run insight.Run, cmd StartCommand) ([]insight.Repository, []string) {
	var acquired []insight.Repository
	var failures []string
	for _, repo := range cmd.Repositories {
		action, err := c.Sandbox.AcquireRepository(ctx, cmd.ProjectID, repo, cmd.Credential)
		if err != nil {
			failures = append(failures, fmt.Sprintf("acquire %s: %v", repo.Name, err))
			continue
		}
		acquired = append(acquired, repo)
		c.Bcast.Publish(run.ID, broadcast.Message{
			Type:   broadcast.TypeProgress,
			Stage:  "setup",
			Detail: fmt.Sprintf("repository %s %s", repo.Name, action),
		})
	}
	return acquired, failures
}

// execute runs the workflow to completion and finalizes the run. It
// runs on its own context: the HTTP request that started the run is
// long gone.
func (c *Coordinator) execute(runID string, initial pipeline.RunState) {
	ctx := context.Background()
	if c.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.RunTimeout)
		defer cancel()
	}

	final, err := c.Engine.Run(ctx, runID, initial)
	if err != nil {
		c.finalizeFailed(runID, err)
		return
	}
	c.finalizeCompleted(runID, final)
}

func (c *Coordinator) finalizeCompleted(runID string, final pipeline.RunState) {
	// Let the run's in-flight progressive saves settle before counting.
	saved := 0
	if c.Saver != nil {
		c.Saver.Wait(runID)
		saved = c.Saver.Saved(runID)
		defer c.Saver.Forget(runID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Store.MarkRunComplete(ctx, runID, saved); err != nil {
		log.Printf("run %s: failed to mark complete: %v", runID, err)
	}

	detail := fmt.Sprintf("%d items approved", len(final.ApprovedItems))
	if len(final.Errors) > 0 {
		detail = fmt.Sprintf("%s, %d stages recovered from errors", detail, len(final.Errors))
	}
	c.Bcast.Publish(runID, broadcast.Message{
		Type:       broadcast.TypeCompleted,
		Detail:     detail,
		ItemsSaved: saved,
	})
	c.Bcast.Evict(runID)
}

func (c *Coordinator) finalizeFailed(runID string, cause error) {
	if c.Saver != nil {
		c.Saver.Wait(runID)
		defer c.Saver.Forget(runID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Store.MarkRunFailed(ctx, runID, cause.Error()); err != nil {
		log.Printf("run %s: failed to mark failed: %v", runID, err)
	}
	c.Bcast.Publish(runID, broadcast.Message{
		Type:  broadcast.TypeError,
		Error: cause.Error(),
	})
	c.Bcast.Evict(runID)
}

// fail finalizes a run that never reached the workflow.
func (c *Coordinator) fail(ctx context.Context, run insight.Run, reason string) insight.Run {
	if err := c.Store.MarkRunFailed(ctx, run.ID, reason); err != nil {
		log.Printf("run %s: failed to mark failed: %v", run.ID, err)
	}
	c.Bcast.Publish(run.ID, broadcast.Message{
		Type:  broadcast.TypeError,
		Error: reason,
	})
	c.Bcast.Evict(run.ID)
	now := time.Now()
	run.Status = insight.StatusFailed
	run.CompletedAt = &now
	run.Error = reason
	return run
}
