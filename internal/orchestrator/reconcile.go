package orchestrator

import (
	"context"
	"fmt"

	"github.com/dynamous-community/YokeFlow/internal/sandbox"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
)

// Reconcile implements spec.md §5's crash-recovery rule: every session left
// "running" by a prior process crash is finalized as cancelled, and its
// sandbox is torn down, before the daemon accepts new workflow starts.
// Call once at daemon startup, after New and before any StartProject call.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	projects, err := o.store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: reconcile: list projects: %w", err)
	}

	for _, project := range projects {
		open, err := o.store.ListOpenSessions(ctx, project.ID)
		if err != nil {
			return fmt.Errorf("orchestrator: reconcile: list open sessions for %s: %w", project.ID, err)
		}
		for _, sess := range open {
			if err := o.store.FinalizeSession(ctx, sess.ID, taskstore.SessionCancelled, sess.Counters, sess.Tokens, nil); err != nil {
				return fmt.Errorf("orchestrator: reconcile: finalize session %s: %w", sess.ID, err)
			}
			o.logger.Info(ctx, "orchestrator: reconciled orphaned session", "project_id", project.ID, "session_id", sess.ID)
		}
		if len(open) > 0 {
			if err := o.sandboxMgr.Stop(ctx, project.ID, sandbox.StopAndRemove); err != nil {
				o.logger.Error(ctx, "orchestrator: reconcile: stop sandbox", "project_id", project.ID, "error", err)
			}
		}
	}
	return nil
}
