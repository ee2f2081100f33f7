package sandbox

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"

	"github.com/dynamous-community/YokeFlow/internal/yokeerr"
)

// inSandboxMountPath is the canonical path the project workspace is
// bind-mounted to inside every container sandbox.
const inSandboxMountPath = "/workspace"

// containerSandbox runs a long-lived idle container per project via
// testcontainers-go, bind-mounting the project workspace and applying
// resource caps from Policy.
type containerSandbox struct {
	mu            sync.Mutex
	projectID     string
	workspacePath string
	policy        Policy
	container     testcontainers.Container
	status        Status
}

// NewContainerFactory returns a Factory producing testcontainers-go backed
// sandboxes.
func NewContainerFactory() Factory {
	return func(projectID, workspacePath string, policy Policy) Capability {
		return &containerSandbox{projectID: projectID, workspacePath: workspacePath, policy: policy, status: StatusNotCreated}
	}
}

func (s *containerSandbox) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusReady {
		return nil
	}
	s.status = StatusStarting

	image := s.policy.Image
	if image == "" {
		image = "ubuntu:24.04"
	}
	name := fmt.Sprintf("project-%s", s.projectID)

	req := testcontainers.ContainerRequest{
		Image: image,
		Name:  name,
		Cmd:   []string{"sleep", "infinity"},
		Files: nil,
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Binds = append(hc.Binds, fmt.Sprintf("%s:%s", s.workspacePath, inSandboxMountPath))
			applyResourceCaps(hc, s.policy)
		},
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		Reuse:            true, // adopt an existing healthy "project-<id>" container
	})
	if err != nil {
		s.status = StatusNotCreated
		return err
	}
	s.container = c
	s.status = StatusReady

	for _, rt := range s.policy.Runtimes {
		// Setup script failures are logged but not fatal, per spec.md §4.4.
		if _, _, err := s.container.Exec(ctx, []string{"sh", "-c", installCommand(rt)}); err != nil {
			continue
		}
	}
	return nil
}

func (s *containerSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	s.mu.Lock()
	c := s.container
	ready := s.status == StatusReady
	s.mu.Unlock()
	if !ready || c == nil {
		return ExecResult{}, yokeerr.New(yokeerr.KindSandboxUnavailable, true, "sandbox for project %s is not ready", s.projectID)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exitCode, reader, err := c.Exec(ctx, []string{"sh", "-c", "cd " + inSandboxMountPath + " && " + command})
	if ctx.Err() == context.DeadlineExceeded {
		// The exec API gives no direct handle on the in-sandbox process
		// tree; killing the container's init process reaps children too.
		_, _, _ = c.Exec(context.Background(), []string{"sh", "-c", "kill -9 -1"})
		return ExecResult{}, yokeerr.New(yokeerr.KindTimeout, true, "exec timed out after %s", timeout)
	}
	if err != nil {
		return ExecResult{}, yokeerr.Wrap(yokeerr.KindSandboxUnavailable, true, err, "exec failed for project %s", s.projectID)
	}

	var out []byte
	if reader != nil {
		out, _ = io.ReadAll(reader)
	}
	return ExecResult{Stdout: string(out), ExitCode: exitCode}, nil
}

func (s *containerSandbox) Stop(ctx context.Context, policy StopPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.container == nil {
		return nil
	}
	if policy == StopAndRemove {
		s.status = StatusStopping
		err := s.container.Terminate(ctx)
		s.status = StatusGone
		return err
	}
	// StopLeaveRunning: default on orderly session end, left running for
	// the next session against the same project to adopt.
	return nil
}

func (s *containerSandbox) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.container == nil {
		s.status = StatusGone
		return nil
	}
	s.status = StatusStopping
	err := s.container.Terminate(ctx)
	s.status = StatusGone
	return err
}

func (s *containerSandbox) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func applyResourceCaps(hc *container.HostConfig, policy Policy) {
	if policy.MemLimit != "" {
		if bytes, err := parseByteSize(policy.MemLimit); err == nil {
			hc.Resources.Memory = bytes
		}
	}
	if policy.CPULimit != "" {
		if cpus, err := parseCPUQuota(policy.CPULimit); err == nil {
			hc.Resources.NanoCPUs = cpus
		}
	}
}

func installCommand(runtime string) string {
	return fmt.Sprintf("command -v %s >/dev/null 2>&1 || apt-get update && apt-get install -y %s", runtime, runtime)
}
