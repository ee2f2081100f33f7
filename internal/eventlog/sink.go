// Package eventlog implements the Event Log Sink: an append-only,
// per-session record of everything the orchestrator observes from one
// Agent Driver run. Every session gets two artifacts in the project's log
// area: a structured NDJSON stream (one Record per line) consumed by the
// Quality Analyzer, and a human-readable narrative for operators tailing
// the session. The sink also maintains a live CounterSnapshot and emits an
// OTEL span event per record so a trace viewer can correlate tool calls
// with sandbox exec activity and model calls.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dynamous-community/YokeFlow/internal/hooks"
	"github.com/dynamous-community/YokeFlow/internal/telemetry"
)

// Sink is a per-session append-only writer. The zero value is not usable;
// construct with Open. A Sink is not safe for concurrent HandleEvent calls
// from multiple goroutines, but CounterSnapshot may be called concurrently
// with HandleEvent (matching the "readers never block the live tailer"
// requirement).
type Sink struct {
	sessionID string

	structuredFile *os.File
	narrativeFile  *os.File
	structuredW    *bufio.Writer
	narrativeW     *bufio.Writer

	counters *Counters
	tracer   telemetry.Tracer

	startedAt time.Time
}

// Open creates (or appends to, on resume) the two per-session artifacts
// under dir and writes the session header record. dir is the project's log
// area; callers are expected to pass a directory that already exists.
func Open(dir, sessionID string, sessionNumber int, modelID string, tracer telemetry.Tracer) (*Sink, error) {
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}

	structuredPath := filepath.Join(dir, sessionID+".jsonl")
	narrativePath := filepath.Join(dir, sessionID+".log")

	sf, err := os.OpenFile(structuredPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open structured artifact: %w", err)
	}
	nf, err := os.OpenFile(narrativePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		sf.Close()
		return nil, fmt.Errorf("eventlog: open narrative artifact: %w", err)
	}

	s := &Sink{
		sessionID:      sessionID,
		structuredFile: sf,
		narrativeFile:  nf,
		structuredW:    bufio.NewWriter(sf),
		narrativeW:     bufio.NewWriter(nf),
		counters:       newCounters(),
		tracer:         tracer,
		startedAt:      time.Now().UTC(),
	}

	header := Record{
		TS:            s.startedAt.Format(time.RFC3339),
		Event:         string(hooks.SessionStart),
		SessionID:     sessionID,
		SessionNumber: sessionNumber,
		ModelID:       modelID,
	}
	if err := s.append(header); err != nil {
		sf.Close()
		nf.Close()
		return nil, err
	}
	return s, nil
}

// HandleEvent implements hooks.Subscriber. It translates a hooks.Event into
// a Record, appends it to both artifacts, updates the live counters, and
// emits a corresponding OTEL span event.
func (s *Sink) HandleEvent(ctx context.Context, evt hooks.Event) error {
	if evt.SessionID() != s.sessionID {
		return nil
	}

	rec := Record{
		TS:        evt.Timestamp().Format(time.RFC3339),
		Event:     string(evt.Type()),
		SessionID: evt.SessionID(),
	}

	switch e := evt.(type) {
	case *hooks.AssistantTextEvent:
		rec.Content = e.Content
	case *hooks.ToolUseEvent:
		rec.ToolName = e.ToolName
		rec.Payload = json.RawMessage(e.Payload)
		s.counters.recordToolUse(e.ToolName)
	case *hooks.ToolResultEvent:
		rec.ToolName = e.ToolName
		rec.IsError = e.IsError
		rec.Content = e.Content
		rec.DurationMS = e.DurationMS
		if e.IsError {
			s.counters.recordError()
		}
	case *hooks.ErrorEvent:
		rec.Kind = e.Kind
		rec.Message = e.Message
		s.counters.recordError()
	case *hooks.SystemNoticeEvent:
		rec.Subtype = e.Subtype
		rec.Content = e.Content
	case *hooks.SessionEndEvent:
		rec.DurationSeconds = e.DurationSeconds
		rec.ToolUseCount = e.ToolUseCount
		rec.ErrorCount = e.ErrorCount
		rec.Tokens = &TokenUsage{
			Input:         e.Tokens.Input,
			Output:        e.Tokens.Output,
			CacheCreation: e.Tokens.CacheCreation,
			CacheRead:     e.Tokens.CacheRead,
		}
	default:
		// Orchestrator-only signals (CommandGated, QualityCheckAttached,
		// TaskStatusChanged, SandboxProvisioned/Terminated, CounterSnapshot)
		// never reach the log artifact.
		return nil
	}

	if err := s.append(rec); err != nil {
		return err
	}

	span := s.tracer.Span(ctx)
	span.AddEvent(rec.Event, "session_id", rec.SessionID, "tool_name", rec.ToolName)
	return nil
}

func (s *Sink) append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("eventlog: marshal record: %w", err)
	}
	if _, err := s.structuredW.Write(data); err != nil {
		return fmt.Errorf("eventlog: write structured record: %w", err)
	}
	if err := s.structuredW.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := s.narrativeW.WriteString("[" + rec.TS + "] " + rec.narrative() + "\n"); err != nil {
		return fmt.Errorf("eventlog: write narrative record: %w", err)
	}
	if err := s.structuredW.Flush(); err != nil {
		return fmt.Errorf("eventlog: flush structured record: %w", err)
	}
	if err := s.narrativeW.Flush(); err != nil {
		return fmt.Errorf("eventlog: flush narrative record: %w", err)
	}
	return nil
}

// CounterSnapshot returns the current running tallies. Safe to call while
// the sink is still appending.
func (s *Sink) CounterSnapshot() CounterSnapshot {
	return s.counters.Snapshot()
}

// Close appends the session footer, flushes, fsyncs, and closes both
// artifacts. The sink is fsync-on-close only: a crash mid-session yields a
// truncated-but-valid prefix rather than a corrupted line, since each
// record is flushed to the file as one complete line before the next is
// written.
func (s *Sink) Close(outcome string, tokens TokenUsage) error {
	snap := s.counters.Snapshot()
	footer := Record{
		TS:              time.Now().UTC().Format(time.RFC3339),
		Event:           string(hooks.SessionEnd),
		SessionID:       s.sessionID,
		DurationSeconds: time.Since(s.startedAt).Seconds(),
		ToolUseCount:    snap.ToolUseCount,
		ErrorCount:      snap.ErrorCount,
		Tokens:          &tokens,
	}
	appendErr := s.append(footer)

	flushErr := s.structuredW.Flush()
	if flushErr == nil {
		flushErr = s.narrativeW.Flush()
	}

	syncErr := s.structuredFile.Sync()
	if syncErr == nil {
		syncErr = s.narrativeFile.Sync()
	}

	closeErr := s.structuredFile.Close()
	if nerr := s.narrativeFile.Close(); closeErr == nil {
		closeErr = nerr
	}

	switch {
	case appendErr != nil:
		return appendErr
	case flushErr != nil:
		return fmt.Errorf("eventlog: flush: %w", flushErr)
	case syncErr != nil:
		return fmt.Errorf("eventlog: fsync: %w", syncErr)
	case closeErr != nil:
		return fmt.Errorf("eventlog: close: %w", closeErr)
	}
	_ = outcome // outcome is carried in the session_end hooks.Event already recorded; kept for caller symmetry.
	return nil
}
