package quality

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dynamous-community/YokeFlow/internal/eventlog"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
	"github.com/dynamous-community/YokeFlow/internal/toolbridge"
)

// verificationWindow is how many preceding tool_use events are scanned for
// a browser-automation call before an update_test_result pass, per
// spec.md §4.8's verification-before-completion pattern.
const verificationWindow = 10

// AnalyzeQuick parses the structured log artifact at logPath and computes
// the deterministic 1-10 rating spec.md §4.8 describes. counters carries
// the session's already-finalized tool-use/error tallies; AnalyzeQuick
// only needs the log itself for signals Session.Counters does not track:
// browser-automation use and the verification-before-completion pattern.
func AnalyzeQuick(logPath string, kind taskstore.SessionKind, counters taskstore.SessionCounters) (Result, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return Result{}, fmt.Errorf("quality: open log %s: %w", logPath, err)
	}
	defer f.Close()

	var browserCount int
	var verified bool
	var window []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec eventlog.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Event != "tool_use" {
			continue
		}

		if rec.ToolName == string(toolbridge.UpdateTestResult) && payloadIsPass(rec.Payload) {
			if windowHasBrowserAutomation(window) {
				verified = true
			}
		}

		if eventlog.IsBrowserAutomationTool(rec.ToolName) {
			browserCount++
		}

		window = append(window, rec.ToolName)
		if len(window) > verificationWindow {
			window = window[len(window)-verificationWindow:]
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("quality: scan log %s: %w", logPath, err)
	}

	rating, critical, warnings := score(kind, counters, browserCount, verified)

	return Result{
		Rating: rating,
		Source: taskstore.RatingFromQuick,
		Counters: taskstore.QualityCheckCounters{
			ToolUses:             counters.ToolUses,
			Errors:               counters.Errors,
			BrowserVerifications: browserCount,
		},
		CriticalIssues: critical,
		Warnings:       warnings,
	}, nil
}

func score(kind taskstore.SessionKind, counters taskstore.SessionCounters, browserCount int, verified bool) (int, []Issue, []Issue) {
	rating := 10
	var critical, warnings []Issue

	if kind != taskstore.SessionInitializer && browserCount == 0 {
		rating -= 4
		critical = append(critical, Issue{
			Tag:     "no_browser_verification",
			Message: "no browser-automation tool use observed in a coding session",
		})
	}

	switch errorRateBucket(counters) {
	case bucketLow:
		// <2%, no penalty.
	case bucketModerate:
		rating -= 1
		warnings = append(warnings, Issue{Tag: "elevated_error_rate", Message: "tool error rate between 2% and 5%"})
	case bucketHigh:
		rating -= 2
		warnings = append(warnings, Issue{Tag: "high_error_rate", Message: "tool error rate between 5% and 10%"})
	case bucketSevere:
		rating -= 4
		critical = append(critical, Issue{Tag: "severe_error_rate", Message: "tool error rate above 10%"})
	}

	if kind != taskstore.SessionInitializer && !verified {
		rating -= 2
		warnings = append(warnings, Issue{
			Tag:     "no_verification_before_completion",
			Message: "no browser-automation tool use preceded a passing test result",
		})
	}

	return clampRating(rating), critical, warnings
}

type errorBucket int

const (
	bucketLow errorBucket = iota
	bucketModerate
	bucketHigh
	bucketSevere
)

func errorRateBucket(counters taskstore.SessionCounters) errorBucket {
	if counters.ToolUses == 0 {
		return bucketLow
	}
	rate := float64(counters.Errors) / float64(counters.ToolUses)
	switch {
	case rate > 0.10:
		return bucketSevere
	case rate > 0.05:
		return bucketHigh
	case rate > 0.02:
		return bucketModerate
	default:
		return bucketLow
	}
}

func windowHasBrowserAutomation(window []string) bool {
	for _, name := range window {
		if eventlog.IsBrowserAutomationTool(name) {
			return true
		}
	}
	return false
}

func payloadIsPass(payload json.RawMessage) bool {
	if len(payload) == 0 {
		return false
	}
	var body struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false
	}
	return body.Outcome == string(taskstore.TestPass)
}
