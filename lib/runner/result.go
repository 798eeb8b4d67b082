// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hangar-build/hangar/lib/pipeline"
)

// ResultLog writes one JSON object per line as a run progresses. A
// run killed midway leaves every completed job's line intact, and a
// reader can tail the file for progress.
//
// All methods are nil-safe no-ops, so the runner calls them
// unconditionally.
type ResultLog struct {
	logger  *slog.Logger
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewResultLog creates (truncating) the log at path.
func NewResultLog(path string, logger *slog.Logger) (*ResultLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	return &ResultLog{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close closes the log file.
func (r *ResultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

func (r *ResultLog) writeStart(runID, name string, jobCount int, started time.Time) {
	if r == nil {
		return
	}
	r.write(resultStartEntry{
		Type:      "start",
		RunID:     runID,
		Pipeline:  name,
		JobCount:  jobCount,
		Timestamp: started.UTC().Format(time.RFC3339),
	})
}

func (r *ResultLog) writeJob(result JobResult) {
	if r == nil {
		return
	}
	entry := resultJobEntry{
		Type:       "job",
		ID:         result.ID,
		Label:      result.Label,
		Kind:       string(result.Kind),
		Platform:   result.Platform,
		State:      result.State,
		ExitStatus: result.ExitStatus,
		Attempts:   result.Attempts,
		DurationMS: result.Duration.Milliseconds(),
		Reason:     result.Reason,
	}
	if result.Err != nil {
		entry.Error = result.Err.Error()
	}
	r.write(entry)
}

func (r *ResultLog) writeNotify(notification Notification) {
	if r == nil {
		return
	}
	r.write(resultNotifyEntry{
		Type:    "notify",
		Kind:    notification.Kind,
		Target:  notification.Target,
		Options: notification.Options,
	})
}

func (r *ResultLog) writeComplete(state BuildState, duration time.Duration) {
	if r == nil {
		return
	}
	r.write(resultCompleteEntry{
		Type:       "complete",
		State:      state,
		DurationMS: duration.Milliseconds(),
	})
}

func (r *ResultLog) write(entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("failed to write result log entry", "error", err)
		return
	}
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("failed to sync result log", "error", err)
	}
}

// resultStartEntry is the first line.
type resultStartEntry struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Pipeline  string `json:"pipeline"`
	JobCount  int    `json:"job_count"`
	Timestamp string `json:"timestamp"`
}

// resultJobEntry is written when a job reaches a terminal state.
type resultJobEntry struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Kind       string         `json:"kind"`
	Platform   string         `json:"platform,omitempty"`
	State      pipeline.State `json:"state"`
	ExitStatus int            `json:"exit_status"`
	Attempts   int            `json:"attempts,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Reason     string         `json:"reason,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// resultNotifyEntry records a notification that would be delivered.
type resultNotifyEntry struct {
	Type    string         `json:"type"`
	Kind    string         `json:"kind"`
	Target  string         `json:"target,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// resultCompleteEntry is the last line.
type resultCompleteEntry struct {
	Type       string     `json:"type"`
	State      BuildState `json:"state"`
	DurationMS int64      `json:"duration_ms"`
}
