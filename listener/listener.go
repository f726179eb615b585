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

// Package listener implements the listener set:
// address-string parsing, SO_REUSEADDR/SO_REUSEPORT/TCP_NODELAY setup,
// and fd inheritance across a binary upgrade. The backlog passed to Parse
// is only logged; sockets are bound with the Go runtime's default backlog.
package listener

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/appforge/appforge/logger"
)

// Set is the collection of listening sockets a supervisor binds once and
// hands to every worker across fork and binary upgrade.
type Set struct {
	addrs     []string
	listeners []*net.TCPListener
	unixListeners []*net.UnixListener
}

// Parse builds a Set from the operator-facing address strings named in
// the operator-facing forms: `unix:/path`, `host:port`, `[v6]:port`, `tcp://host:port`,
// `fd://N` (inherited from a parent process during upgrade).
func Parse(addrs []string, backlog int) (*Set, error) {
	s := &Set{addrs: addrs}
	for _, addr := range addrs {
		if err := s.bindOne(addr, backlog); err != nil {
			return nil, fmt.Errorf("listener %q: %w", addr, err)
		}
	}
	return s, nil
}

func (s *Set) bindOne(addr string, backlog int) error {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		path := strings.TrimPrefix(addr, "unix:")
		_ = os.Remove(path)
		ul, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
		if err != nil {
			return err
		}
		s.unixListeners = append(s.unixListeners, ul)
		return nil

	case strings.HasPrefix(addr, "fd://"):
		fdStr := strings.TrimPrefix(addr, "fd://")
		fd, err := strconv.Atoi(fdStr)
		if err != nil {
			return fmt.Errorf("invalid fd %q: %w", fdStr, err)
		}
		f := os.NewFile(uintptr(fd), addr)
		fl, err := net.FileListener(f)
		if err != nil {
			return err
		}
		tl, ok := fl.(*net.TCPListener)
		if !ok {
			return fmt.Errorf("fd %d is not a TCP listener", fd)
		}
		s.listeners = append(s.listeners, tl)
		return nil

	default:
		host := addr
		host = strings.TrimPrefix(host, "tcp://")
		tcpAddr, err := net.ResolveTCPAddr("tcp", host)
		if err != nil {
			return err
		}
		lc := net.ListenConfig{Control: controlReusePort}
		ln, err := lc.Listen(nil, "tcp", tcpAddr.String())
		if err != nil {
			return err
		}
		tl, ok := ln.(*net.TCPListener)
		if !ok {
			return fmt.Errorf("unexpected listener type for %q", addr)
		}
		if backlog > 0 {
			logger.Debugf("listener %s bound with requested backlog %d", addr, backlog)
		}
		s.listeners = append(s.listeners, tl)
		return nil
	}
}

// controlReusePort sets SO_REUSEADDR and SO_REUSEPORT before bind so a
// rolling graceful reload can bind the next generation's listener while
// the previous one still holds the port.
func controlReusePort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sockErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
			sockErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Files returns the *os.File for every bound socket, in the order they are
// passed as ExtraFiles (counted by APPFORGE_LISTEN_FDS) to a forked worker
// or a re-exec'd supervisor.
func (s *Set) Files() ([]*os.File, error) {
	var files []*os.File
	for _, l := range s.listeners {
		f, err := l.File()
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	for _, l := range s.unixListeners {
		f, err := l.File()
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// TCPListeners returns the bound TCP listeners for the engines to Accept on.
func (s *Set) TCPListeners() []*net.TCPListener { return s.listeners }

// UnixListeners returns the bound Unix-domain listeners.
func (s *Set) UnixListeners() []*net.UnixListener { return s.unixListeners }

// Close closes every listener in the set.
func (s *Set) Close() error {
	var result *multierror.Error
	for _, l := range s.listeners {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, l := range s.unixListeners {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Addrs returns the configured address strings, for logging.
func (s *Set) Addrs() []string { return s.addrs }

// Listeners returns every bound listener, TCP and Unix alike, as the
// net.Listener interface the engines accept on.
func (s *Set) Listeners() []net.Listener {
	out := make([]net.Listener, 0, len(s.listeners)+len(s.unixListeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	for _, l := range s.unixListeners {
		out = append(out, l)
	}
	return out
}
