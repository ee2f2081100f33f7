package quality

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dynamous-community/YokeFlow/internal/agentdriver/provider"
)

type scriptedStream struct {
	events []provider.StreamEvent
	pos    int
}

func (s *scriptedStream) Recv() (provider.StreamEvent, error) {
	if s.pos >= len(s.events) {
		return provider.StreamEvent{}, provider.ErrStreamComplete
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedStream) Close() error { return nil }

type fakeProvider struct {
	text string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	return &scriptedStream{events: []provider.StreamEvent{{Kind: provider.StreamEventText, Text: f.text}}}, nil
}

func writeReviewLog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"ts":"2026-01-01T00:00:00Z","event":"session_start","session_id":"s1"}`+"\n"), 0o644))
	return path
}

func TestAnalyzeDeepExtractsRating(t *testing.T) {
	result, err := AnalyzeDeep(context.Background(), DeepParams{
		ProjectID: "p1",
		ReviewID:  "r1",
		LogPath:   writeReviewLog(t),
		Provider:  &fakeProvider{text: "Looks solid overall.\nRATING: 8"},
		Model:     "fake-model",
	}, 5)

	require.NoError(t, err)
	require.Equal(t, 8, result.Rating)
}

func TestAnalyzeDeepFallsBackToQuickRatingWhenUnparseable(t *testing.T) {
	result, err := AnalyzeDeep(context.Background(), DeepParams{
		ProjectID: "p1",
		ReviewID:  "r1",
		LogPath:   writeReviewLog(t),
		Provider:  &fakeProvider{text: "No clear verdict here."},
		Model:     "fake-model",
	}, 6)

	require.NoError(t, err)
	require.Equal(t, 6, result.Rating)
}
