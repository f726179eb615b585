// Copyright 2025 The appforge Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package heartbeat implements the worker liveness token used by the
// supervisor to detect a hung worker.
package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Token is one worker's heartbeat file: its mtime is bumped on every
// Tick, and the supervisor compares that mtime against the configured
// timeout with a Stat syscall.
type Token struct {
	path string
	f    *os.File
}

// New creates (or truncates) the heartbeat file for workerID under dir.
func New(dir string, workerID int) (*Token, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("worker-%d.heartbeat", workerID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &Token{path: path, f: f}, nil
}

// Tick bumps the token's mtime to the current time, signalling the worker
// is alive. The engines call this once per second off an accept-loop
// ticker.
func (t *Token) Tick() error {
	now := time.Now()
	return os.Chtimes(t.path, now, now)
}

// Path returns the heartbeat file's path, for the supervisor's monitor
// loop to Stat.
func (t *Token) Path() string { return t.path }

// Close removes the heartbeat file and releases its handle.
func (t *Token) Close() error {
	err := t.f.Close()
	if rmErr := os.Remove(t.path); err == nil {
		err = rmErr
	}
	return err
}

// Expired reports whether the file at path has not been ticked within
// timeout, per a Stat syscall (the supervisor is a different process
// than the worker, so this cannot use an in-process monotonic clock).
func Expired(path string, timeout time.Duration) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return true, err
	}
	return time.Since(info.ModTime()) > timeout, nil
}
