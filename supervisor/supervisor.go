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
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/appforge/appforge/internal/heartbeat"
	"github.com/appforge/appforge/internal/sigs"
	"github.com/appforge/appforge/listener"
	"github.com/appforge/appforge/logger"
)

// Environment variables used for the re-exec worker/upgrade protocol.
// Go's runtime cannot safely fork() without an immediate exec, so "fork a
// worker" here means "exec a fresh copy of this binary with inherited
// listener fds and a role marker" rather than a literal fork.
const (
	EnvRole       = "APPFORGE_ROLE"
	RoleWorker    = "worker"
	EnvWorkerAge  = "APPFORGE_WORKER_AGE"
	EnvListenFDs  = "APPFORGE_LISTEN_FDS"
	EnvUpgradeFrom = "APPFORGE_UPGRADE_FROM_PID"
)

// workerHandle is one entry in the worker table.
type workerHandle struct {
	cmd        *exec.Cmd
	age        int
	pid        int
	instanceID uuid.UUID
	token      *heartbeat.Token
	startedAt  time.Time
}

// Supervisor is the pre-fork master.
type Supervisor struct {
	mu      sync.Mutex
	cfg     Config
	lset    *listener.Set
	workers map[int]*workerHandle // keyed by pid
	nextAge int

	targetWorkers int

	stopCh  chan struct{}
	pidLock *os.File
}

// New builds a Supervisor bound to lset; it does not start any workers
// until Run is called.
func New(cfg Config, lset *listener.Set) *Supervisor {
	return &Supervisor{
		cfg:           cfg,
		lset:          lset,
		workers:       make(map[int]*workerHandle),
		targetWorkers: cfg.Workers,
		stopCh:        make(chan struct{}),
	}
}

// Run is the supervisor's main loop. It blocks
// until a graceful or fast stop is requested.
func (s *Supervisor) Run() error {
	if err := s.writePidFile(); err != nil {
		return err
	}
	defer s.removePidFile()

	terminate := sigs.Terminate()
	quit := sigs.Quit()
	reload := sigs.Reload()
	reopenLogs := sigs.ReopenLogs()
	upgrade := sigs.Upgrade()
	stopServing := sigs.StopServing()
	incWorkers := sigs.IncWorkers()
	decWorkers := sigs.DecWorkers()
	child := sigs.Child()

	for i := 0; i < s.targetWorkers; i++ {
		if err := s.forkWorker(); err != nil {
			logger.Errorf("failed to start worker: %v", err)
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-terminate:
			logger.Infof("supervisor: graceful stop requested")
			s.stopAll(s.cfg.GracefulTimeout)
			return nil

		case <-quit:
			logger.Infof("supervisor: fast stop requested")
			s.stopAll(0)
			return nil

		case <-reload:
			s.reload()

		case <-reopenLogs:
			logger.Infof("supervisor: reopening logs")
			// USR1 is only logged: no log file is reopened here, the
			// signal is not forwarded to workers, and workers ignore it.

		case <-upgrade:
			if err := s.reexec(); err != nil {
				logger.Errorf("supervisor: binary upgrade failed: %v", err)
			}

		case <-stopServing:
			logger.Infof("supervisor: stop serving, keep listening")
			s.signalWorkers(syscall.SIGWINCH)

		case <-incWorkers:
			s.targetWorkers++
			logger.Infof("supervisor: worker target increased to %d", s.targetWorkers)

		case <-decWorkers:
			if s.targetWorkers > 0 {
				s.targetWorkers--
			}
			logger.Infof("supervisor: worker target decreased to %d", s.targetWorkers)

		case <-child:
			s.reap()

		case <-ticker.C:
			s.reap()
			s.maintainWorkerCount()
			s.murderTimedOut()
		}
	}
}

// reap performs step 1: non-blocking waitpid for every tracked worker.
func (s *Supervisor) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, h := range s.workers {
		var ws syscall.WaitStatus
		wpid, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
		if err != nil || wpid == 0 {
			continue
		}
		logger.Infof("supervisor: worker pid=%d age=%d exited status=%v", pid, h.age, ws)
		h.token.Close()
		delete(s.workers, pid)
	}
}

// maintainWorkerCount performs step 2: fork up to target, or SIGQUIT the
// oldest surplus workers down to target.
func (s *Supervisor) maintainWorkerCount() {
	s.mu.Lock()
	count := len(s.workers)
	target := s.targetWorkers
	s.mu.Unlock()

	for count < target {
		if err := s.forkWorker(); err != nil {
			logger.Errorf("supervisor: failed to fork worker: %v", err)
			break
		}
		count++
	}
	if count > target {
		oldest := s.oldestWorkers(count - target)
		for _, h := range oldest {
			logger.Infof("supervisor: retiring surplus worker pid=%d age=%d", h.pid, h.age)
			syscall.Kill(h.pid, syscall.SIGQUIT)
		}
	}
}

// murderTimedOut performs step 3: SIGKILL any worker whose heartbeat is
// stale beyond cfg.Timeout.
func (s *Supervisor) murderTimedOut() {
	if s.cfg.Timeout <= 0 {
		return
	}
	s.mu.Lock()
	handles := make([]*workerHandle, 0, len(s.workers))
	for _, h := range s.workers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		expired, err := heartbeat.Expired(h.token.Path(), s.cfg.Timeout)
		if err != nil || !expired {
			continue
		}
		logger.Errorf("supervisor: worker pid=%d age=%d missed heartbeat, killing", h.pid, h.age)
		syscall.Kill(h.pid, syscall.SIGKILL)
	}
}

// forkWorker execs a fresh worker process inheriting the listener fds.
func (s *Supervisor) forkWorker() error {
	s.mu.Lock()
	age := s.nextAge
	s.nextAge++
	s.mu.Unlock()

	token, err := heartbeat.New(s.cfg.HeartbeatDir, age)
	if err != nil {
		return errors.Wrap(err, "create heartbeat token")
	}

	files, err := s.lset.Files()
	if err != nil {
		token.Close()
		return errors.Wrap(err, "collect listener files")
	}

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.ExtraFiles = files
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", EnvRole, RoleWorker),
		fmt.Sprintf("%s=%d", EnvWorkerAge, age),
		fmt.Sprintf("%s=%d", EnvListenFDs, len(files)),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		token.Close()
		return errors.Wrap(err, "start worker process")
	}

	instanceID := uuid.New()
	s.mu.Lock()
	s.workers[cmd.Process.Pid] = &workerHandle{
		cmd: cmd, age: age, pid: cmd.Process.Pid, instanceID: instanceID, token: token, startedAt: time.Now(),
	}
	s.mu.Unlock()

	logger.Infof("supervisor: started worker pid=%d age=%d instance=%s", cmd.Process.Pid, age, instanceID)
	return nil
}

// oldestWorkers returns the n oldest-age workers, ascending age.
func (s *Supervisor) oldestWorkers(n int) []*workerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*workerHandle, 0, len(s.workers))
	for _, h := range s.workers {
		all = append(all, h)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].age < all[j].age })
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// reload implements graceful reload: it forks one new-age worker per
// existing worker, then sends SIGTERM to every pre-reload worker at once.
// It does not wait for the new workers to become ready before retiring the
// old ones, and does not retire them one at a time.
func (s *Supervisor) reload() {
	logger.Infof("supervisor: graceful reload starting")
	s.mu.Lock()
	before := make([]*workerHandle, 0, len(s.workers))
	for _, h := range s.workers {
		before = append(before, h)
	}
	s.mu.Unlock()

	for range before {
		if err := s.forkWorker(); err != nil {
			logger.Errorf("supervisor: reload failed to start replacement worker: %v", err)
			return
		}
	}
	for _, h := range before {
		logger.Infof("supervisor: retiring pre-reload worker pid=%d age=%d", h.pid, h.age)
		syscall.Kill(h.pid, syscall.SIGTERM)
	}
}

// reexec implements binary upgrade via re-exec: a new supervisor process
// is started with the listener fds as ExtraFiles and APPFORGE_LISTEN_FDS
// set, but it binds its configured addresses afresh and does not use the
// passed fds; the old supervisor keeps serving until the operator sends it
// WINCH+TERM.
func (s *Supervisor) reexec() error {
	files, err := s.lset.Files()
	if err != nil {
		return errors.Wrap(err, "collect listener files")
	}
	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.ExtraFiles = files
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%d", EnvListenFDs, len(files)),
		fmt.Sprintf("%s=%d", EnvUpgradeFrom, os.Getpid()),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start replacement supervisor process")
	}
	logger.Infof("supervisor: re-exec'd new supervisor pid=%d; old supervisor (pid=%d) continues serving", cmd.Process.Pid, os.Getpid())
	return nil
}

func (s *Supervisor) signalWorkers(sig syscall.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid := range s.workers {
		syscall.Kill(pid, sig)
	}
}

// stopAll terminates every worker; if graceful > 0 it sends SIGTERM and
// waits up to graceful before escalating to SIGKILL, otherwise it sends
// SIGQUIT immediately (fast stop).
func (s *Supervisor) stopAll(graceful time.Duration) {
	sig := syscall.SIGQUIT
	if graceful > 0 {
		sig = syscall.SIGTERM
	}
	s.signalWorkers(sig)

	if graceful > 0 {
		deadline := time.After(graceful)
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for {
			s.reap()
			s.mu.Lock()
			remaining := len(s.workers)
			s.mu.Unlock()
			if remaining == 0 {
				return
			}
			select {
			case <-deadline:
				s.signalWorkers(syscall.SIGKILL)
				s.reap()
				return
			case <-tick.C:
			}
		}
	}
	s.reap()
}

// writePidFile takes an exclusive, non-blocking advisory lock on the
// pidfile before writing to it, refusing to start if another supervisor
// already holds the lock rather than silently clobbering its pidfile.
func (s *Supervisor) writePidFile() error {
	if s.cfg.PidFile == "" {
		return nil
	}
	f, err := os.OpenFile(s.cfg.PidFile, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, "open pidfile")
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return errors.Wrapf(err, "pidfile %s is locked by another instance", s.cfg.PidFile)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return err
	}
	s.pidLock = f
	return nil
}

func (s *Supervisor) removePidFile() {
	if s.cfg.PidFile == "" || s.pidLock == nil {
		return
	}
	unix.Flock(int(s.pidLock.Fd()), unix.LOCK_UN)
	s.pidLock.Close()
	os.Remove(s.cfg.PidFile)
	s.pidLock = nil
}

// WorkerSnapshot is one worker's entry in a Snapshot, JSON-serializable
// for the admin surface's /-/workers route.
type WorkerSnapshot struct {
	PID        int       `json:"pid"`
	Age        int       `json:"age"`
	InstanceID uuid.UUID `json:"instance_id"`
	StartedAt  time.Time `json:"started_at"`
}

// Snapshot returns the current worker table for introspection.
func (s *Supervisor) Snapshot() []WorkerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerSnapshot, 0, len(s.workers))
	for _, h := range s.workers {
		out = append(out, WorkerSnapshot{PID: h.pid, Age: h.age, InstanceID: h.instanceID, StartedAt: h.startedAt})
	}
	return out
}
