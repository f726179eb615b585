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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestSupervisor(workers ...*workerHandle) *Supervisor {
	s := &Supervisor{
		workers: make(map[int]*workerHandle),
	}
	for _, h := range workers {
		s.workers[h.pid] = h
	}
	return s
}

func TestOldestWorkersOrdersByAgeAscending(t *testing.T) {
	s := newTestSupervisor(
		&workerHandle{pid: 1, age: 5},
		&workerHandle{pid: 2, age: 1},
		&workerHandle{pid: 3, age: 3},
	)

	oldest := s.oldestWorkers(2)
	assert.Len(t, oldest, 2)
	assert.Equal(t, 1, oldest[0].age)
	assert.Equal(t, 3, oldest[1].age)
}

func TestOldestWorkersClampsToAvailable(t *testing.T) {
	s := newTestSupervisor(&workerHandle{pid: 1, age: 1})
	oldest := s.oldestWorkers(5)
	assert.Len(t, oldest, 1)
}

func TestSnapshotReflectsWorkerTable(t *testing.T) {
	id := uuid.New()
	started := time.Now()
	s := newTestSupervisor(&workerHandle{pid: 42, age: 2, instanceID: id, startedAt: started})

	snap := s.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, 42, snap[0].PID)
	assert.Equal(t, 2, snap[0].Age)
	assert.Equal(t, id, snap[0].InstanceID)
}

func TestDefaultConfigHasSaneWorkerClass(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, "threaded", cfg.WorkerClass)
	assert.NotZero(t, cfg.Timeout)
	assert.NotEmpty(t, cfg.Bind)
}
