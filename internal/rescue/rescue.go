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

package rescue

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/appforge/appforge/common"
	"github.com/appforge/appforge/logger"
)

var panicTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "handler_panic_total",
		Help:      "number of panics recovered from request handlers",
	},
)

// PanicHandlers runs, in order, whenever HandleCrash recovers a panic.
// A worker-internal invariant violation should never take the
// whole process down; it should be logged, counted, and the offending
// connection closed by the caller.
var PanicHandlers = []func(any){
	incPanicCounter,
	logPanic,
}

func incPanicCounter(_ any) {
	panicTotal.Inc()
}

func logPanic(r any) {
	const size = 64 << 10
	stacktrace := make([]byte, size)
	stacktrace = stacktrace[:runtime.Stack(stacktrace, false)]
	if _, ok := r.(string); ok {
		logger.Errorf("observed a panic: %s\n%s", r, stacktrace)
	} else {
		logger.Errorf("observed a panic: %#v (%v)\n%s", r, r, stacktrace)
	}
}

// HandleCrash recovers a panic on the calling goroutine and runs
// PanicHandlers against it. Call via `defer rescue.HandleCrash()` at the
// top of any goroutine that must never crash the worker process.
func HandleCrash() {
	if r := recover(); r != nil {
		for _, fn := range PanicHandlers {
			fn(r)
		}
	}
}
