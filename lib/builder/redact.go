// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"bytes"
	"cmp"
	"io"
	"slices"
	"strings"
	"sync"
)

// Mask replaces redacted values.
const Mask = "[REDACTED]"

// minRedactLength is the shortest value masked. Shorter values would
// mangle ordinary output.
const minRedactLength = 4

// maxPending bounds how much output a Writer holds back while waiting
// for a newline.
const maxPending = 64 * 1024

// Redactor masks registered values. It is safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	values   []string
	replacer *strings.Replacer
}

// NewRedactor returns an empty Redactor.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// Add registers value. Multi-line values are registered line by line
// since output is redacted a line at a time.
func (r *Redactor) Add(value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for line := range strings.SplitSeq(value, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if len(strings.TrimSpace(line)) < minRedactLength || slices.Contains(r.values, line) {
			continue
		}
		r.values = append(r.values, line)
		changed = true
	}
	if !changed {
		return
	}

	// Longest first, so a value containing another is masked whole.
	slices.SortFunc(r.values, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(b), len(a)), strings.Compare(a, b))
	})
	pairs := make([]string, 0, 2*len(r.values))
	for _, registered := range r.values {
		pairs = append(pairs, registered, Mask)
	}
	r.replacer = strings.NewReplacer(pairs...)
}

// Len returns the number of registered values.
func (r *Redactor) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// Redact returns text with every registered value masked.
func (r *Redactor) Redact(text string) string {
	r.mu.RLock()
	replacer := r.replacer
	r.mu.RUnlock()
	if replacer == nil {
		return text
	}
	return replacer.Replace(text)
}

// safeCut returns how much of text can be emitted without splitting
// a registered value: the tail that could start a value is held back,
// and the cut moves before any value that would straddle it.
func (r *Redactor) safeCut(text []byte) int {
	r.mu.RLock()
	values := r.values
	r.mu.RUnlock()
	if len(values) == 0 {
		return len(text)
	}

	// values is sorted longest first.
	cut := max(0, len(text)-(len(values[0])-1))
	for moved := true; moved && cut > 0; {
		moved = false
		for _, value := range values {
			start := max(0, cut-len(value)+1)
			end := min(len(text), cut+len(value)-1)
			if end-start < len(value) {
				continue
			}
			if offset := bytes.Index(text[start:end], []byte(value)); offset >= 0 && start+offset < cut {
				cut = start + offset
				moved = true
			}
		}
	}
	return cut
}

// Writer returns a writer that masks registered values before
// writing to out. Output is held back until a newline so values split
// across writes are still caught; call Flush when the stream ends.
func (r *Redactor) Writer(out io.Writer) *Writer {
	return &Writer{redactor: r, out: out}
}

// Writer is a redacting io.Writer.
type Writer struct {
	redactor *Redactor
	out      io.Writer

	mu      sync.Mutex
	pending []byte
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	cut := bytes.LastIndexByte(w.pending, '\n') + 1
	if cut == 0 && len(w.pending) > maxPending {
		cut = w.redactor.safeCut(w.pending)
	}
	if cut == 0 {
		return len(p), nil
	}
	if err := w.emit(w.pending[:cut]); err != nil {
		return 0, err
	}
	w.pending = append(w.pending[:0], w.pending[cut:]...)
	return len(p), nil
}

// Flush writes held-back output.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	err := w.emit(w.pending)
	w.pending = w.pending[:0]
	return err
}

func (w *Writer) emit(chunk []byte) error {
	_, err := io.WriteString(w.out, w.redactor.Redact(string(chunk)))
	return err
}
