package sandbox

import (
	"context"
	"time"

	"github.com/dynamous-community/YokeFlow/internal/yokeerr"
)

// remoteCloudSandbox is a stub: spec.md scopes remote_cloud as a variant
// tag, not a concrete backend, and no pack example exercises a concrete
// cloud sandbox API. Every call fails with a clear, typed error rather than
// silently degrading to another variant.
type remoteCloudSandbox struct {
	projectID string
}

// NewRemoteCloudFactory returns a Factory producing the remote_cloud stub.
func NewRemoteCloudFactory() Factory {
	return func(projectID, _ string, _ Policy) Capability {
		return &remoteCloudSandbox{projectID: projectID}
	}
}

func (s *remoteCloudSandbox) Start(context.Context) error { return errUnimplemented(s.projectID) }

func (s *remoteCloudSandbox) Exec(context.Context, string, time.Duration) (ExecResult, error) {
	return ExecResult{}, errUnimplemented(s.projectID)
}

func (s *remoteCloudSandbox) Stop(context.Context, StopPolicy) error { return nil }

func (s *remoteCloudSandbox) Destroy(context.Context) error { return nil }

func (s *remoteCloudSandbox) Status() Status { return StatusNotCreated }

func errUnimplemented(projectID string) error {
	return yokeerr.New(yokeerr.KindSandboxUnavailable, false,
		"remote_cloud sandbox variant is not implemented (project %s)", projectID)
}

// unknownVariantSandbox fails every call for an unrecognized Policy.Kind.
type unknownVariantSandbox struct {
	kind string
}

func (s *unknownVariantSandbox) Start(context.Context) error {
	return yokeerr.New(yokeerr.KindPrecondition, false, "unknown sandbox policy kind %q", s.kind)
}

func (s *unknownVariantSandbox) Exec(context.Context, string, time.Duration) (ExecResult, error) {
	return ExecResult{}, yokeerr.New(yokeerr.KindPrecondition, false, "unknown sandbox policy kind %q", s.kind)
}

func (s *unknownVariantSandbox) Stop(context.Context, StopPolicy) error { return nil }

func (s *unknownVariantSandbox) Destroy(context.Context) error { return nil }

func (s *unknownVariantSandbox) Status() Status { return StatusNotCreated }
