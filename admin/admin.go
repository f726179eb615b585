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

// Package admin exposes the supervisor's introspection HTTP surface:
// Prometheus metrics, log-level control, and signal-equivalent admin
// routes describing worker pool state.
package admin

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/appforge/appforge/common"
	"github.com/appforge/appforge/internal/fasttime"
	"github.com/appforge/appforge/internal/sigs"
	"github.com/appforge/appforge/logger"
	"github.com/appforge/appforge/server"
	"github.com/appforge/appforge/supervisor"
)

type infoResponse struct {
	common.BuildInfo
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Register wires /metrics, /-/info, /-/logger, /-/reload, and /-/workers
// onto svr; sup is queried for the worker-table snapshot /-/workers
// reports.
func Register(svr *server.Server, sup *supervisor.Supervisor) {
	if svr == nil {
		return
	}

	svr.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	svr.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, r *http.Request) {
		logger.SetLoggerLevel(r.FormValue("level"))
		w.Write([]byte(`{"status": "success"}`))
	})

	svr.RegisterGetRoute("/-/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(infoResponse{
			BuildInfo:     common.GetBuildInfo(),
			UptimeSeconds: fasttime.UnixTimestamp() - common.Started(),
		})
	})

	svr.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
			return
		}
		w.Write([]byte(`{"status": "success"}`))
	})

	if sup != nil {
		svr.RegisterGetRoute("/-/workers", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sup.Snapshot())
		})
	}
}
