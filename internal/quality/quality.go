// Package quality implements the Quality Analyzer (C8): a deterministic
// "quick" rating computed from a session's structured log artifact, and a
// "deep" rating that re-invokes the Agent Driver with a review prompt
// against that same artifact. Neither path mutates the reviewed session's
// own counters; both persist through taskstore.Store.AttachQualityCheck.
package quality

import (
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
)

// Issue is a structured tag plus a human-readable message, matching the
// "{tag, message}" shape spec.md §4.8 asks of critical_issues/warnings.
type Issue struct {
	Tag     string
	Message string
}

// Result is one path's output, ready to be persisted via
// taskstore.Store.AttachQualityCheck.
type Result struct {
	Rating         int
	Source         taskstore.RatingSource
	Counters       taskstore.QualityCheckCounters
	CriticalIssues []Issue
	Warnings       []Issue
	ReviewText     string
}

// IssueMessages flattens a Result's critical issues and warnings into the
// []string shape AttachQualityCheck stores.
func (r Result) IssueMessages() []string {
	out := make([]string, 0, len(r.CriticalIssues)+len(r.Warnings))
	for _, i := range r.CriticalIssues {
		out = append(out, "critical:"+i.Tag+": "+i.Message)
	}
	for _, i := range r.Warnings {
		out = append(out, "warning:"+i.Tag+": "+i.Message)
	}
	return out
}

func clampRating(r int) int {
	if r < 1 {
		return 1
	}
	if r > 10 {
		return 10
	}
	return r
}
