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

package supervisor

import (
	"net"
	"os"
	"strconv"

	"github.com/appforge/appforge/internal/heartbeat"
)

// IsWorkerProcess reports whether the current process was exec'd by a
// Supervisor as a worker.
func IsWorkerProcess() bool {
	return os.Getenv(EnvRole) == RoleWorker
}

// WorkerAge returns this worker's age, as assigned by the supervisor.
func WorkerAge() int {
	age, _ := strconv.Atoi(os.Getenv(EnvWorkerAge))
	return age
}

// InheritedListeners reconstructs the *net.TCPListener/*net.UnixListener
// set from the file descriptors the supervisor passed via ExtraFiles,
// starting at fd 3 (0-2 are stdio).
func InheritedListeners() ([]net.Listener, error) {
	n, _ := strconv.Atoi(os.Getenv(EnvListenFDs))
	listeners := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		f := os.NewFile(uintptr(3+i), "listener-fd")
		ln, err := net.FileListener(f)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

// WorkerHeartbeat opens this worker's heartbeat token so it can tick it
// on its own run loop cadence.
func WorkerHeartbeat(dir string) (*heartbeat.Token, error) {
	return heartbeat.New(dir, WorkerAge())
}
