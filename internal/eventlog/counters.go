package eventlog

import (
	"strings"
	"sync"
)

// Counters holds running tallies for one session's event log. Safe for
// concurrent reads (CounterSnapshot) while the sink is still appending.
type Counters struct {
	mu                     sync.RWMutex
	toolUseCount           int
	errorCount             int
	perTool                map[string]int
	browserAutomationCount int
}

// CounterSnapshot is an immutable point-in-time copy of Counters, consumed
// live by the orchestrator for early-warning checks and by the Quality
// Analyzer post hoc.
type CounterSnapshot struct {
	ToolUseCount           int
	ErrorCount             int
	PerTool                map[string]int
	BrowserAutomationCount int
}

func newCounters() *Counters {
	return &Counters{perTool: make(map[string]int)}
}

func (c *Counters) recordToolUse(toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolUseCount++
	c.perTool[toolName]++
	if isBrowserAutomation(toolName) {
		c.browserAutomationCount++
	}
}

func (c *Counters) recordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}

// Snapshot returns a copy of the current counter state.
func (c *Counters) Snapshot() CounterSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	perTool := make(map[string]int, len(c.perTool))
	for k, v := range c.perTool {
		perTool[k] = v
	}
	return CounterSnapshot{
		ToolUseCount:           c.toolUseCount,
		ErrorCount:             c.errorCount,
		PerTool:                perTool,
		BrowserAutomationCount: c.browserAutomationCount,
	}
}

// isBrowserAutomation reports whether toolName names a browser-automation
// tool, recognized by its "browser_" name prefix. Such tools are not part
// of the internal/toolbridge catalog.
func isBrowserAutomation(toolName string) bool {
	return IsBrowserAutomationTool(toolName)
}

// IsBrowserAutomationTool reports whether toolName names a browser
// automation tool. Exported so the Quality Analyzer's quick path can apply
// the same classification when replaying a session's log outside of a live
// Counters instance.
func IsBrowserAutomationTool(toolName string) bool {
	return strings.HasPrefix(toolName, "browser_")
}
