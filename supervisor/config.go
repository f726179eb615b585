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

// Package supervisor implements the pre-fork master process: worker table management, heartbeat-timeout murder, signal
// dispatch, graceful rolling reload, and binary upgrade via re-exec.
package supervisor

import "time"

// Config holds the process-management options: worker count and class,
// request recycling, timeouts, bind addresses, and the heartbeat
// directory workers report liveness into.
type Config struct {
	Workers            int           `config:"workers"`
	WorkerClass        string        `config:"worker_class"`
	MaxRequests        int           `config:"max_requests"`
	MaxRequestsJitter   int          `config:"max_requests_jitter"`
	Timeout            time.Duration `config:"timeout"`
	GracefulTimeout    time.Duration `config:"graceful_timeout"`
	Bind               []string      `config:"bind"`
	Backlog            int           `config:"backlog"`
	PidFile            string        `config:"pidfile"`
	HeartbeatDir       string        `config:"heartbeat_dir"`
	User               string        `config:"user"`
	Group              string        `config:"group"`
}

// DefaultConfig mirrors gunicorn-style defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         1,
		WorkerClass:     "threaded",
		Timeout:         30 * time.Second,
		GracefulTimeout: 30 * time.Second,
		Bind:            []string{"0.0.0.0:8000"},
		Backlog:         2048,
		HeartbeatDir:    "/tmp/appforge-heartbeat",
	}
}
