package quality

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver"
	"github.com/dynamous-community/YokeFlow/internal/agentdriver/prompt"
	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/taskstore"
)

var ratingPattern = regexp.MustCompile(`(?i)RATING:\s*(\d{1,2})`)

// DeepParams configures one deep-review invocation.
type DeepParams struct {
	ProjectID   string
	ReviewID    string // the review's own session id, distinct from the reviewed session
	ProjectName string
	LogPath     string // the reviewed session's raw structured log artifact

	Provider provider.Provider
	Model    string
}

// AnalyzeDeep launches a fresh, tool-free Agent Driver invocation against
// the reviewed session's raw log and extracts a rating from its free-form
// output, per spec.md §4.8. It never mutates the reviewed session; the
// caller attaches the returned Result as a new QualityCheck row. When the
// review text carries no parseable "RATING: n" line, fallbackRating (the
// quick path's rating) is reused and Source reports RatingFromQuick, per
// the recorded Open Question decision.
func AnalyzeDeep(ctx context.Context, p DeepParams, fallbackRating int) (Result, error) {
	raw, err := os.ReadFile(p.LogPath)
	if err != nil {
		return Result{}, err
	}

	events := agentdriver.Run(ctx, nil, agentdriver.Params{
		ProjectID:      p.ProjectID,
		SessionID:      p.ReviewID,
		ProjectName:    p.ProjectName,
		Kind:           taskstore.SessionReview,
		Sandbox:        prompt.SandboxNone,
		Provider:       p.Provider,
		Model:          p.Model,
		InitialMessage: string(raw),
	})

	var review strings.Builder
	outcome := "completed"
	for evt := range events {
		switch e := evt.(type) {
		case *hooks.AssistantTextEvent:
			review.WriteString(e.Content)
		case *hooks.SessionEndEvent:
			outcome = e.Outcome
		}
	}

	text := review.String()
	if outcome != "completed" {
		return Result{
			Rating:     fallbackRating,
			Source:     taskstore.RatingFromQuick,
			ReviewText: text,
			CriticalIssues: []Issue{{
				Tag:     "review_error",
				Message: "deep review session did not complete normally (" + outcome + ")",
			}},
		}, nil
	}

	rating, ok := extractRating(text)
	if !ok {
		rating = fallbackRating
		return Result{Rating: rating, Source: taskstore.RatingFromQuick, ReviewText: text}, nil
	}
	return Result{Rating: clampRating(rating), Source: taskstore.RatingFromDeep, ReviewText: text}, nil
}

func extractRating(text string) (int, bool) {
	m := ratingPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
