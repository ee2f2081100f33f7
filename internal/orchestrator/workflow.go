package orchestrator

import (
	"github.com/dynamous-community/YokeFlow/internal/engine"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
)

// ProjectWorkflowInput starts the per-project workflow. Exactly one
// execution runs per project, per SPEC_FULL.md §4.7: the engine's
// workflow ID (workflowID(ProjectID)) is the de-duplication key.
type ProjectWorkflowInput struct {
	ProjectID string
}

// ProjectWorkflowResult is returned when a project's workflow execution
// halts, per spec.md §4.7's state machine: either it ran out of work, hit
// the consecutive-failure threshold, was cancelled, or reached the
// iteration budget and will be resumed by a fresh StartProject call.
type ProjectWorkflowResult struct {
	SessionsRun       int
	HaltReason        string
	LastSessionStatus taskstore.SessionStatus
}

// projectWorkflow is the per-project state machine: IDLE chooses and
// provisions a session, RUNNING drives it to completion, POST runs the
// quick quality gate synchronously and schedules a deep review
// asynchronously when triggered, then AUTO_CHAIN decides whether to loop
// back to IDLE or HALT. All side effects run through ExecuteActivity so the
// function itself stays deterministic for replay.
func (o *Orchestrator) projectWorkflow(wfCtx engine.WorkflowContext, input any) (any, error) {
	in := input.(ProjectWorkflowInput)
	ctx := wfCtx.Context()

	result := ProjectWorkflowResult{}
	consecutiveFailures := 0

	var deepReviewSeed SessionsSinceLastDeepReviewOutput
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:  ActivitySessionsSinceLastDeepReview,
		Input: SessionsSinceLastDeepReviewInput{ProjectID: in.ProjectID},
	}, &deepReviewSeed); err != nil {
		deepReviewSeed.Count = 0
	}
	deepReviewsSinceReset := deepReviewSeed.Count

	for {
		if isCancelled(wfCtx) {
			result.HaltReason = "cancelled"
			return result, nil
		}
		if o.cfg.MaxSessionsPerRun > 0 && result.SessionsRun >= o.cfg.MaxSessionsPerRun {
			result.HaltReason = "iteration_budget"
			return result, nil
		}

		var provisioned ProvisionSandboxOutput
		if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
			Name:  ActivityProvisionSandbox,
			Input: ProvisionSandboxInput{ProjectID: in.ProjectID},
		}, &provisioned); err != nil {
			if attemptRetry(wfCtx, ActivityProvisionSandbox, ProvisionSandboxInput{ProjectID: in.ProjectID}, &provisioned) != nil {
				result.HaltReason = "provision_failed"
				return result, nil
			}
		}

		modelID := o.modelFor(provisioned.Kind)

		var sessionOut RunSessionOutput
		if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
			Name: ActivityRunSession,
			Input: RunSessionInput{
				ProjectID:     in.ProjectID,
				ProjectName:   provisioned.ProjectName,
				SpecPath:      provisioned.SpecPath,
				WorkspacePath: provisioned.WorkspacePath,
				SandboxKind:   provisioned.SandboxKind,
				Kind:          provisioned.Kind,
				ModelID:       modelID,
			},
		}, &sessionOut); err != nil {
			result.HaltReason = "run_session_failed"
			return result, nil
		}
		result.SessionsRun++
		result.LastSessionStatus = sessionOut.Status

		var quick QuickQualityOutput
		if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
			Name: ActivityQuickQuality,
			Input: QuickQualityInput{
				ProjectID:     in.ProjectID,
				SessionID:     sessionOut.SessionID,
				SessionNumber: sessionOut.SessionNumber,
				Kind:          sessionOut.Kind,
				LogPath:       sessionOut.LogPath,
				ToolUses:      sessionOut.ToolUseCount,
				Errors:        sessionOut.ErrorCount,
			},
		}, &quick); err != nil {
			quick.Rating = 0
		}

		if shouldDeepReview(sessionOut.SessionNumber, quick.Rating, deepReviewsSinceReset) {
			deepReviewsSinceReset = 0
			// Fire-and-forget: the workflow schedules the deep review and
			// moves on without waiting on its Future.
			_, _ = wfCtx.ExecuteActivityAsync(ctx, engine.ActivityRequest{
				Name: ActivityDeepQuality,
				Input: DeepQualityInput{
					ProjectID:      in.ProjectID,
					ProjectName:    provisioned.ProjectName,
					SessionID:      sessionOut.SessionID,
					LogPath:        sessionOut.LogPath,
					ModelID:        o.cfg.ReviewModel,
					FallbackRating: quick.Rating,
				},
			})
		} else {
			deepReviewsSinceReset++
		}

		switch sessionOut.Status {
		case taskstore.SessionFailed:
			consecutiveFailures++
		case taskstore.SessionCancelled:
			// does not count toward the threshold.
		default:
			consecutiveFailures = 0
		}

		if provisioned.Kind == taskstore.SessionInitializer {
			result.HaltReason = "initializer_complete"
			return result, nil
		}
		if consecutiveFailures >= ConsecutiveFailureThreshold {
			result.HaltReason = "consecutive_failures"
			return result, nil
		}
		if !sessionOut.HasRemainingWork {
			result.HaltReason = "no_remaining_work"
			return result, nil
		}
		if isCancelled(wfCtx) {
			result.HaltReason = "cancelled"
			return result, nil
		}

		if o.cfg.AutoContinueDelay > 0 {
			var empty struct{}
			_ = wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
				Name:  ActivityAutoContinueDelay,
				Input: AutoContinueDelayInput{Duration: o.cfg.AutoContinueDelay},
			}, &empty)
		}
	}
}

// isCancelled reports whether the workflow's context has been cancelled or
// an explicit "cancel" signal has been received, matching spec.md §5's
// two-phase cancellation: cooperative first, sandbox teardown handled by
// the caller once the workflow returns.
func isCancelled(wfCtx engine.WorkflowContext) bool {
	if wfCtx.Context().Err() != nil {
		return true
	}
	var sig struct{}
	return wfCtx.SignalChannel(engine.CancelSignal).ReceiveAsync(&sig)
}

// attemptRetry retries a single failed activity invocation exactly once,
// implementing spec.md §7's "sandbox_unavailable: retry once, then fail the
// session" policy. A second failure is surfaced to the caller unchanged.
func attemptRetry(wfCtx engine.WorkflowContext, name string, input any, result any) error {
	return wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{Name: name, Input: input}, result)
}

func (o *Orchestrator) modelFor(kind taskstore.SessionKind) string {
	switch kind {
	case taskstore.SessionInitializer:
		return o.cfg.InitializerModel
	case taskstore.SessionReview:
		return o.cfg.ReviewModel
	default:
		return o.cfg.CodingModel
	}
}

// shouldDeepReview implements spec.md §4.8's deep-review trigger: every
// fifth coding session (skipping session 0), any session whose quick rating
// fell below 7, or once five sessions have passed since the last deep
// review.
func shouldDeepReview(sessionNumber, quickRating, sessionsSinceLastDeep int) bool {
	if sessionNumber > 0 && sessionNumber%5 == 0 {
		return true
	}
	if quickRating > 0 && quickRating < 7 {
		return true
	}
	return sessionsSinceLastDeep >= 5
}
