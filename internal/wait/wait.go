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

// Package wait runs a function repeatedly until a context is cancelled,
// recovering panics between iterations so one bad iteration doesn't kill
// the supervising goroutine.
package wait

import (
	"context"
	"time"

	"github.com/appforge/appforge/internal/rescue"
)

// Until calls f in a loop until ctx is done. If f returns, it is called
// again immediately; a panic inside f is recovered and logged, then f is
// retried after a short backoff so a persistently panicking task doesn't
// spin the CPU.
func Until(ctx context.Context, f func()) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		panicked := true
		func() {
			defer rescue.HandleCrash()
			f()
			panicked = false
		}()

		if panicked {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Backoff is like Until but sleeps d between iterations, for loops that
// poll rather than block (e.g. supervisor heartbeat-timeout sweeps).
func Backoff(ctx context.Context, d time.Duration, f func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer rescue.HandleCrash()
				f()
			}()
		}
	}
}
