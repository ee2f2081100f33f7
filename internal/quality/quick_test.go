package quality

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dynamous-community/YokeFlow/internal/taskstore"
)

func writeLog(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	var data string
	for _, l := range lines {
		data += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestAnalyzeQuickPenalizesMissingBrowserVerification(t *testing.T) {
	path := writeLog(t, []string{
		`{"ts":"2026-01-01T00:00:00Z","event":"tool_use","session_id":"s1","tool_name":"update_task_status","payload":{}}`,
	})

	result, err := AnalyzeQuick(path, taskstore.SessionCoding, taskstore.SessionCounters{ToolUses: 1, Errors: 0})
	require.NoError(t, err)
	require.Less(t, result.Rating, 10)
	require.NotEmpty(t, result.CriticalIssues)
}

func TestAnalyzeQuickExemptsInitializerFromBrowserPenalty(t *testing.T) {
	path := writeLog(t, []string{
		`{"ts":"2026-01-01T00:00:00Z","event":"tool_use","session_id":"s1","tool_name":"create_epic","payload":{}}`,
	})

	result, err := AnalyzeQuick(path, taskstore.SessionInitializer, taskstore.SessionCounters{ToolUses: 1, Errors: 0})
	require.NoError(t, err)
	for _, issue := range result.CriticalIssues {
		require.NotEqual(t, "no_browser_verification", issue.Tag)
	}
}

func TestAnalyzeQuickRecognizesVerificationPattern(t *testing.T) {
	path := writeLog(t, []string{
		`{"ts":"2026-01-01T00:00:00Z","event":"tool_use","session_id":"s1","tool_name":"browser_screenshot","payload":{}}`,
		`{"ts":"2026-01-01T00:00:01Z","event":"tool_use","session_id":"s1","tool_name":"update_test_result","payload":{"outcome":"pass"}}`,
	})

	result, err := AnalyzeQuick(path, taskstore.SessionCoding, taskstore.SessionCounters{ToolUses: 2, Errors: 0})
	require.NoError(t, err)
	for _, warning := range result.Warnings {
		require.NotEqual(t, "no_verification_before_completion", warning.Tag)
	}
	require.Equal(t, 1, result.Counters.BrowserVerifications)
}

func TestErrorRateBucketing(t *testing.T) {
	require.Equal(t, bucketLow, errorRateBucket(taskstore.SessionCounters{ToolUses: 100, Errors: 1}))
	require.Equal(t, bucketModerate, errorRateBucket(taskstore.SessionCounters{ToolUses: 100, Errors: 3}))
	require.Equal(t, bucketHigh, errorRateBucket(taskstore.SessionCounters{ToolUses: 100, Errors: 7}))
	require.Equal(t, bucketSevere, errorRateBucket(taskstore.SessionCounters{ToolUses: 100, Errors: 15}))
}
