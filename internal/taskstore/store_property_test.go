package taskstore

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestSessionNumberingIsDenseAndMonotoneProperty verifies invariant 1: for
// any sequence of sessions created against one project, session_number is
// 0, 1, 2, ... in creation order with no gaps or repeats.
func TestSessionNumberingIsDenseAndMonotoneProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("session numbers are dense and monotone per project", prop.ForAll(
		func(extraSessions int) bool {
			ctx := context.Background()
			s, err := New(":memory:", nil)
			if err != nil {
				return false
			}
			defer s.Close()

			p, err := s.CreateProject(ctx, "p", "demo", "/spec.md", "/ws", SandboxPolicy{Kind: "none"})
			if err != nil {
				return false
			}

			sess0, err := s.CreateSession(ctx, p.ID, SessionInitializer, "m")
			if err != nil || sess0.SessionNumber != 0 {
				return false
			}
			for i := 0; i < extraSessions; i++ {
				sess, err := s.CreateSession(ctx, p.ID, SessionCoding, "m")
				if err != nil {
					return false
				}
				if sess.SessionNumber != i+1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// TestTaskDoneRequiresAllTestsPassingProperty verifies invariant 2 across
// arbitrary pass/fail combinations of a task's tests: the task becomes
// done if and only if every test passes.
func TestTaskDoneRequiresAllTestsPassingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("task done iff all tests pass", prop.ForAll(
		func(outcomes []bool) bool {
			if len(outcomes) == 0 {
				return true
			}
			ctx := context.Background()
			s, err := New(":memory:", nil)
			if err != nil {
				return false
			}
			defer s.Close()

			p, _ := s.CreateProject(ctx, "p", "demo", "/spec.md", "/ws", SandboxPolicy{Kind: "none"})
			epic, _ := s.CreateEpic(ctx, p.ID, 0, "e", "")
			task, _ := s.CreateTask(ctx, epic.ID, 0, "t", "")

			allPass := true
			for _, pass := range outcomes {
				test, err := s.CreateTest(ctx, task.ID, "t")
				if err != nil {
					return false
				}
				outcome := TestFail
				if pass {
					outcome = TestPass
				} else {
					allPass = false
				}
				if err := s.UpdateTestResult(ctx, test.ID, outcome); err != nil {
					return false
				}
			}

			err = s.UpdateTaskStatus(ctx, task.ID, true)
			if allPass {
				return err == nil
			}
			return err != nil
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// TestNextTaskIsDeterministicProperty verifies invariant 4: repeated calls
// to GetNextTask against an unchanged project always agree.
func TestNextTaskIsDeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("next task is stable across repeated reads", prop.ForAll(
		func(epicCount, tasksPerEpic int) bool {
			ctx := context.Background()
			s, err := New(":memory:", nil)
			if err != nil {
				return false
			}
			defer s.Close()

			p, _ := s.CreateProject(ctx, "p", "demo", "/spec.md", "/ws", SandboxPolicy{Kind: "none"})
			for e := 0; e < epicCount; e++ {
				epic, err := s.CreateEpic(ctx, p.ID, e, "epic", "")
				if err != nil {
					return false
				}
				for tk := 0; tk < tasksPerEpic; tk++ {
					if _, err := s.CreateTask(ctx, epic.ID, tk, "task", ""); err != nil {
						return false
					}
				}
			}

			first, err := s.GetNextTask(ctx, p.ID)
			if err != nil {
				return false
			}
			second, err := s.GetNextTask(ctx, p.ID)
			if err != nil {
				return false
			}
			if epicCount == 0 || tasksPerEpic == 0 {
				return first == nil && second == nil
			}
			return first != nil && second != nil && first.ID == second.ID
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

// TestQualityCheckAttachmentIsIdempotentProperty verifies invariant 6:
// attaching the same check_type to a session any number of times never
// produces more than one stored row for that (session, check_type) pair.
func TestQualityCheckAttachmentIsIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("re-attaching a quality check updates in place", prop.ForAll(
		func(attempts int, finalRating int) bool {
			if attempts < 1 {
				attempts = 1
			}
			ctx := context.Background()
			s, err := New(":memory:", nil)
			if err != nil {
				return false
			}
			defer s.Close()

			p, _ := s.CreateProject(ctx, "p", "demo", "/spec.md", "/ws", SandboxPolicy{Kind: "none"})
			sess, err := s.CreateSession(ctx, p.ID, SessionInitializer, "m")
			if err != nil {
				return false
			}
			if err := s.FinalizeSession(ctx, sess.ID, SessionCompleted, SessionCounters{}, TokenUsage{}, nil); err != nil {
				return false
			}

			for i := 0; i < attempts; i++ {
				rating := finalRating
				if i < attempts-1 {
					rating = finalRating + 1
				}
				if _, err := s.AttachQualityCheck(ctx, sess.ID, QualityQuick, rating, RatingFromQuick, QualityCheckCounters{}, nil, ""); err != nil {
					return false
				}
			}

			trend, err := s.QualityTrend(ctx, p.ID)
			if err != nil {
				return false
			}
			return len(trend) == 1 && trend[0].Rating == finalRating
		},
		gen.IntRange(1, 5),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
