package sandbox

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dynamous-community/YokeFlow/internal/yokeerr"
)

type entry struct {
	cap        Capability
	generation uint64
}

// Manager owns the project-to-sandbox map. It guarantees at most one live
// sandbox per project id: when two Start calls race, the one that observes
// the newer generation after its Capability.Start returns wins; the loser
// destroys its own sandbox and returns an error, per spec.md §4.4.
type Manager struct {
	mu         sync.Mutex
	sandboxes  map[string]*entry
	generation uint64
	factory    Factory

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	execRate  rate.Limit
	execBurst int
}

// NewManager constructs a Manager. execRatePerSecond/execBurst bound the
// rate of Exec calls per project, independent of how many sessions target
// that project concurrently.
func NewManager(factory Factory, execRatePerSecond float64, execBurst int) *Manager {
	if execBurst <= 0 {
		execBurst = 1
	}
	return &Manager{
		sandboxes: make(map[string]*entry),
		factory:   factory,
		limiters:  make(map[string]*rate.Limiter),
		execRate:  rate.Limit(execRatePerSecond),
		execBurst: execBurst,
	}
}

// Start is idempotent: a Ready sandbox for projectID is returned as-is.
// Otherwise a new Capability is created via the factory and started.
func (m *Manager) Start(ctx context.Context, projectID, workspacePath string, policy Policy) (Capability, error) {
	m.mu.Lock()
	if e, ok := m.sandboxes[projectID]; ok && e.cap.Status() == StatusReady {
		m.mu.Unlock()
		return e.cap, nil
	}
	m.generation++
	gen := m.generation
	cap := m.factory(projectID, workspacePath, policy)
	m.sandboxes[projectID] = &entry{cap: cap, generation: gen}
	m.mu.Unlock()

	if err := cap.Start(ctx); err != nil {
		return nil, yokeerr.Wrap(yokeerr.KindSandboxUnavailable, true, err, "start sandbox for project %s", projectID)
	}

	m.mu.Lock()
	current, ok := m.sandboxes[projectID]
	won := ok && current.generation == gen
	m.mu.Unlock()
	if !won {
		go cap.Destroy(context.Background())
		return nil, yokeerr.New(yokeerr.KindSandboxUnavailable, false,
			"a newer sandbox start won the race for project %s", projectID)
	}
	return cap, nil
}

// Exec rate-limits and forwards to the project's current sandbox. Returns
// not_found if no sandbox has ever been started for projectID.
func (m *Manager) Exec(ctx context.Context, projectID, command string, timeout time.Duration) (ExecResult, error) {
	m.mu.Lock()
	e, ok := m.sandboxes[projectID]
	m.mu.Unlock()
	if !ok {
		return ExecResult{}, yokeerr.New(yokeerr.KindNotFound, false, "no sandbox for project %s", projectID)
	}

	if err := m.limiterFor(projectID).Wait(ctx); err != nil {
		return ExecResult{}, yokeerr.Wrap(yokeerr.KindTimeout, true, err, "exec rate limit wait for project %s", projectID)
	}
	return e.cap.Exec(ctx, command, timeout)
}

// Stop ends the session's use of projectID's sandbox per policy.
func (m *Manager) Stop(ctx context.Context, projectID string, policy StopPolicy) error {
	m.mu.Lock()
	e, ok := m.sandboxes[projectID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return e.cap.Stop(ctx, policy)
}

// Destroy stops and removes projectID's sandbox unconditionally, used on
// project deletion or startup reconciliation after a policy change.
func (m *Manager) Destroy(ctx context.Context, projectID string) error {
	m.mu.Lock()
	e, ok := m.sandboxes[projectID]
	delete(m.sandboxes, projectID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return e.cap.Destroy(ctx)
}

func (m *Manager) limiterFor(projectID string) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	l, ok := m.limiters[projectID]
	if !ok {
		l = rate.NewLimiter(m.execRate, m.execBurst)
		m.limiters[projectID] = l
	}
	return l
}
