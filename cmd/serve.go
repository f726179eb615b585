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

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/appforge/appforge/admin"
	"github.com/appforge/appforge/confengine"
	"github.com/appforge/appforge/engine/asgi"
	"github.com/appforge/appforge/engine/threaded"
	"github.com/appforge/appforge/internal/demoapp"
	"github.com/appforge/appforge/internal/sigs"
	"github.com/appforge/appforge/internal/wait"
	"github.com/appforge/appforge/listener"
	"github.com/appforge/appforge/logger"
	"github.com/appforge/appforge/server"
	"github.com/appforge/appforge/supervisor"
)

// serveConfig is the root config shape unpacked from the YAML file,
// split by the component each option belongs to.
type serveConfig struct {
	Supervisor supervisor.Config `config:"supervisor"`
	Threaded   threaded.Config   `config:"threaded"`
	ASGI       asgi.Config       `config:"asgi"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pre-fork application server (supervisor or worker, per the process's role)",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, conf, err := loadServeConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		if supervisor.IsWorkerProcess() {
			if err := runWorker(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "worker exited with error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		if err := runSupervisor(cfg, conf); err != nil {
			fmt.Fprintf(os.Stderr, "supervisor exited with error: %v\n", err)
			os.Exit(1)
		}
	},
	Example: "# appforged serve --config appforge.yaml",
}

var configPath string

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "appforge.yaml", "Configuration file path")
	rootCmd.AddCommand(serveCmd)
}

func loadServeConfig(path string) (serveConfig, *confengine.Config, error) {
	cfg := serveConfig{
		Supervisor: supervisor.DefaultConfig(),
		Threaded:   threaded.DefaultConfig(),
		ASGI:       asgi.DefaultConfig(),
	}
	conf, err := confengine.LoadConfigPath(path)
	if err != nil {
		if os.IsNotExist(err) {
			empty, _ := confengine.LoadContent([]byte("{}"))
			return cfg, empty, nil // run on defaults if no config file is present
		}
		return cfg, nil, err
	}
	if err := conf.Unpack(&cfg); err != nil {
		return cfg, nil, err
	}
	return cfg, conf, nil
}

// runSupervisor implements the master-process branch:
// bind every listening socket, start the worker pool, and block on the
// supervisor's signal-driven main loop.
func runSupervisor(cfg serveConfig, conf *confengine.Config) error {
	lset, err := listener.Parse(cfg.Supervisor.Bind, cfg.Supervisor.Backlog)
	if err != nil {
		return err
	}
	defer lset.Close()

	sup := supervisor.New(cfg.Supervisor, lset)

	if svr, err := server.New(conf); err == nil && svr != nil {
		admin.Register(svr, sup)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go wait.Backoff(ctx, 5*time.Second, func() {
			if err := svr.ListenAndServe(); err != nil {
				logger.Errorf("admin server exited, retrying: %v", err)
			}
		})
	}

	return sup.Run()
}

// runWorker implements the worker-process branch: reconstruct the
// inherited listeners, build the engine named by worker_class, and
// serve until the supervisor signals a stop.
func runWorker(cfg serveConfig) error {
	listeners, err := supervisor.InheritedListeners()
	if err != nil {
		return err
	}
	token, err := supervisor.WorkerHeartbeat(cfg.Supervisor.HeartbeatDir)
	if err != nil {
		return err
	}
	defer token.Close()

	quit := sigs.Quit()
	terminate := sigs.Terminate()
	reopenLogs := sigs.ReopenLogs()

	switch cfg.Supervisor.WorkerClass {
	case "asgi":
		eng, err := asgi.New(cfg.ASGI, demoapp.ASGI, token)
		if err != nil {
			return err
		}
		go func() {
			for {
				select {
				case <-quit:
					eng.Shutdown(false)
					return
				case <-terminate:
					eng.Shutdown(true)
					return
				case <-reopenLogs:
				}
			}
		}()
		return eng.Serve(listeners)

	default: // "threaded"
		eng := threaded.New(cfg.Threaded, demoapp.Threaded, token)
		go func() {
			for {
				select {
				case <-quit:
					eng.Shutdown(false)
					return
				case <-terminate:
					eng.Shutdown(true)
					return
				case <-reopenLogs:
				}
			}
		}()
		return eng.Serve(listeners)
	}
}
