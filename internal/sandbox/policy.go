package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dynamous-community/YokeFlow/internal/security"
)

// DefaultFactory dispatches to the variant-specific factory named by
// Policy.Kind. Unknown kinds fail at Start rather than at construction, so
// Manager.Start's error path (not a panic) is what callers observe.
func DefaultFactory(gate *security.Gate) Factory {
	none := NewNoneFactory(gate)
	container := NewContainerFactory()
	remoteCloud := NewRemoteCloudFactory()
	return func(projectID, workspacePath string, policy Policy) Capability {
		switch policy.Kind {
		case "", "none":
			return none(projectID, workspacePath, policy)
		case "container":
			return container(projectID, workspacePath, policy)
		case "remote_cloud":
			return remoteCloud(projectID, workspacePath, policy)
		default:
			return &unknownVariantSandbox{kind: policy.Kind}
		}
	}
}

// parseByteSize parses sizes like "512m", "2g", or a bare byte count into
// bytes, following the notation Docker resource limits commonly use.
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult, s = 1024, s[:len(s)-1]
	case 'm':
		mult, s = 1024*1024, s[:len(s)-1]
	case 'g':
		mult, s = 1024*1024*1024, s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(n * float64(mult)), nil
}

// parseCPUQuota parses a CPU limit like "2" or "0.5" into NanoCPUs, the
// unit Docker's HostConfig.Resources.NanoCPUs expects (1 CPU = 1e9).
func parseCPUQuota(s string) (int64, error) {
	cpus, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return int64(cpus * 1e9), nil
}
