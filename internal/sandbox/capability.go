// Package sandbox implements the Sandbox Manager (C4): a per-project
// execution environment with variants {none, container, remote_cloud}
// behind one Capability interface, and the Manager that enforces at most
// one live sandbox per project id.
package sandbox

import (
	"context"
	"time"
)

// Status is a sandbox's lifecycle state.
type Status string

const (
	StatusNotCreated Status = "not_created"
	StatusStarting   Status = "starting"
	StatusReady      Status = "ready"
	StatusStopping   Status = "stopping"
	StatusGone       Status = "gone"
)

// StopPolicy chooses what Stop does to a sandbox on orderly session end.
type StopPolicy int

const (
	// StopLeaveRunning leaves the sandbox running for reuse by the next
	// session against the same project. This is the default.
	StopLeaveRunning StopPolicy = iota
	// StopAndRemove stops and removes the sandbox immediately.
	StopAndRemove
)

// Policy configures a project's sandbox: which variant to use and, for the
// container variant, its resource caps and pre-installed runtimes.
type Policy struct {
	Kind     string // "none", "container", "remote_cloud"
	Image    string
	CPULimit string
	MemLimit string
	Runtimes []string
}

// ExecResult is the outcome of a command run inside a sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Capability is the per-project sandbox object. Implementations must be
// safe for use by one Manager entry at a time; the Manager itself
// serializes Start/Stop/Destroy per project.
type Capability interface {
	// Start brings the sandbox to ready, adopting an existing healthy
	// sandbox for this project when one exists. Idempotent.
	Start(ctx context.Context) error
	// Exec runs command inside the ready sandbox, enforcing the given
	// wall-clock timeout. On timeout the in-sandbox process tree is killed
	// and a timeout error is returned.
	Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error)
	// Stop ends the session's use of the sandbox per policy.
	Stop(ctx context.Context, policy StopPolicy) error
	// Destroy stops and removes the sandbox unconditionally. The project
	// workspace (bind-mounted, not sandbox state) is never touched here.
	Destroy(ctx context.Context) error
	// Status reports the sandbox's current lifecycle state.
	Status() Status
}

// Factory constructs the Capability for one project according to policy.
// workspacePath is the host path that must be made visible inside the
// sandbox at a canonical mount point.
type Factory func(projectID, workspacePath string, policy Policy) Capability
