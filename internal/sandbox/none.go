package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/dynamous-community/YokeFlow/internal/security"
	"github.com/dynamous-community/YokeFlow/internal/yokeerr"
)

// noneSandbox executes directly on the host. Per SPEC_FULL.md §4.4 (the
// "always gate" resolution of spec.md §9's Open Question), every command is
// checked against the Security Gate before exec, with no variant-specific
// opt-out.
type noneSandbox struct {
	mu            sync.Mutex
	projectID     string
	workspacePath string
	gate          *security.Gate
	status        Status
}

// NewNoneFactory returns a Factory producing host-exec sandboxes gated by
// gate. Pass nil to use the package-level default rule set.
func NewNoneFactory(gate *security.Gate) Factory {
	if gate == nil {
		gate = security.New()
	}
	return func(projectID, workspacePath string, _ Policy) Capability {
		return &noneSandbox{projectID: projectID, workspacePath: workspacePath, gate: gate}
	}
}

func (s *noneSandbox) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusReady
	return nil
}

func (s *noneSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	if decision := s.gate.Check(command); !decision.Allowed {
		return ExecResult{}, yokeerr.New(yokeerr.KindSecurityDenied, false,
			"command denied by rule %q: %s", decision.Rule, decision.Reason)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.workspacePath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() == context.DeadlineExceeded {
		return result, yokeerr.New(yokeerr.KindTimeout, true, "exec timed out after %s", timeout)
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return result, yokeerr.Wrap(yokeerr.KindSandboxUnavailable, true, err, "exec failed for project %s", s.projectID)
		}
	}
	return result, nil
}

func (s *noneSandbox) Stop(context.Context, StopPolicy) error {
	return nil
}

func (s *noneSandbox) Destroy(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusGone
	return nil
}

func (s *noneSandbox) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
