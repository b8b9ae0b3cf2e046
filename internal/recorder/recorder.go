// Package recorder persists a session's target→client bytes to an
// asciicast v2 transcript, matching spec component C2. Grounded on
// _examples/original_source/genesis-process/src/recording.rs: exclusive
// directory creation, a JSON header line, one JSON data row per write, a
// periodic flush task, and an idempotent close that appends a terminal
// "end session" row.
package recorder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"
)

// Header is line 1 of the asciicast v2 file.
type Header struct {
	Version   int    `json:"version"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timestamp int64  `json:"timestamp"`
	Env       EnvMap `json:"env"`
}

// EnvMap is the asciicast header's env object.
type EnvMap struct {
	Shell string `json:"SHELL"`
	Term  string `json:"TERM"`
}

// endSessionPayload is the terminal data row's payload, per spec §4.2.
const endSessionPayload = "end session"

// Recorder writes one asciicast v2 transcript per session. The zero value
// is not usable; construct with New.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	startedAt time.Time
	uniqID    string
	closed    bool
}

// New derives the recording path <root>/ssh/<uniqID>/recording.cast,
// creates the parent directory exclusively (fails if it already exists —
// deliberately fatal, per spec §4.2 and recording.rs), and writes the
// header line.
func New(root, uniqID, term string, cols, rows int) (*Recorder, error) {
	dir := filepath.Join(root, "ssh", uniqID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("recorder: session directory already exists: %s", dir)
		}
		if parentErr := os.MkdirAll(filepath.Dir(dir), 0o755); parentErr == nil {
			if err2 := os.Mkdir(dir, 0o755); err2 != nil {
				return nil, fmt.Errorf("recorder: create session directory: %w", err2)
			}
		} else {
			return nil, fmt.Errorf("recorder: create session directory: %w", err)
		}
	}

	path := filepath.Join(dir, "recording.cast")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: create recording file: %w", err)
	}

	started := time.Now()
	hdr := Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: started.Unix(),
		Env:       EnvMap{Shell: "/bin/bash", Term: term},
	}
	line, err := json.Marshal(hdr)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: marshal header: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: write header: %w", err)
	}

	return &Recorder{file: f, startedAt: started, uniqID: uniqID}, nil
}

// Write appends one asciicast data row for payload, unless payload decodes
// as UTF-8 and begins with the recorder's own session id — the
// loop-prevention swallow described in spec §4.2 (the orchestrator may
// otherwise feed its own control traffic back into the transcript).
func (r *Recorder) Write(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if utf8.Valid(payload) && bytes.HasPrefix(payload, []byte(r.uniqID)) {
		return nil
	}
	return r.writeRow(string(payload))
}

// writeRow must be called with mu held.
func (r *Recorder) writeRow(payload string) error {
	delta := time.Since(r.startedAt).Seconds()
	row, err := json.Marshal([]any{delta, "o", payload})
	if err != nil {
		return fmt.Errorf("recorder: marshal row: %w", err)
	}
	_, err = r.file.Write(append(row, '\n'))
	return err
}

// Flush syncs pending writes to disk. Call periodically (every 3 seconds,
// per spec §4.2 and §5) from the owning task.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	return r.file.Sync()
}

// Close writes the terminal "end session" row, syncs, and releases the
// file handle. Idempotent: a second call is a no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.writeRow(endSessionPayload); err != nil {
		r.file.Close()
		return err
	}
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// RunFlushLoop ticks Flush every interval until stop is closed or a flush
// call returns an error, in which case it returns that error; the caller
// (the session orchestrator) treats a returned error as "recorder task
// terminates, session survives without recording", per spec §7.
func (r *Recorder) RunFlushLoop(stop <-chan struct{}, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				return fmt.Errorf("recorder: flush: %w", err)
			}
		}
	}
}
