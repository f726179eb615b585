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

package asgi

import (
	"fmt"
	"time"

	"github.com/appforge/appforge/proto"
)

// lifespanTimeout bounds both lifespan.startup and lifespan.shutdown.
const lifespanTimeout = 30 * time.Second

// runLifespan drives the single lifespan task at worker boot: it sends
// lifespan.startup and blocks for .complete or .failed, populating
// state with whatever the application stashed in scope.state so every
// later request scope observes it. The returned shutdown func repeats
// the same dance with lifespan.shutdown at worker teardown.
func runLifespan(app Application, state map[string]any) (shutdown func() error, err error) {
	scope := &proto.ASGIScope{Type: "lifespan", State: state}

	send := make(chan *proto.ASGIEvent, 4)
	recv := make(chan *proto.ASGIEvent, 4)
	done := make(chan struct{})

	go func() {
		defer close(done)
		app(scope,
			func() (*proto.ASGIEvent, error) { return <-recv, nil },
			func(ev *proto.ASGIEvent) error { send <- ev; return nil },
		)
	}()

	recv <- &proto.ASGIEvent{Type: proto.EventLifespanStartup}

	select {
	case ev := <-send:
		switch ev.Type {
		case proto.EventLifespanStartupComplete:
			// ok
		case proto.EventLifespanStartupFailed:
			return nil, fmt.Errorf("lifespan startup failed: %s", ev.Message)
		}
	case <-time.After(lifespanTimeout):
		return nil, fmt.Errorf("lifespan startup timed out after %s", lifespanTimeout)
	}

	shutdown = func() error {
		recv <- &proto.ASGIEvent{Type: proto.EventLifespanShutdown}
		select {
		case ev := <-send:
			if ev.Type == proto.EventLifespanShutdownFailed {
				return fmt.Errorf("lifespan shutdown failed: %s", ev.Message)
			}
			return nil
		case <-time.After(lifespanTimeout):
			return fmt.Errorf("lifespan shutdown timed out after %s", lifespanTimeout)
		case <-done:
			return nil
		}
	}
	return shutdown, nil
}
