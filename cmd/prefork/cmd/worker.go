package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/psantana5/prefork/internal/supervisor"
	"github.com/psantana5/prefork/internal/worker"
	"github.com/psantana5/prefork/pkg/logging"
	"github.com/psantana5/prefork/pkg/shutdown"
	"github.com/psantana5/prefork/pkg/tracing"
)

// workerCmd is the entry point the supervisor re-executes
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single worker process",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	base, err := logging.Open(cfg.LoggingOptions())
	if err != nil {
		return err
	}
	defer base.Close()

	pid := os.Getpid()
	logger := base.WithFields(logging.Fields{
		"component": "worker",
		"slot":      os.Getenv(supervisor.EnvWorkerSlot),
		"run_id":    os.Getenv(supervisor.EnvRunID),
	})

	if cfg.Worker.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.Worker.MaxProcs)
	} else {
		undo, err := maxprocs.Set(maxprocs.Logger(logger.Debugf))
		defer undo()
		if err != nil {
			logger.Warn("Failed to set GOMAXPROCS from CPU quota", logging.Fields{"error": err.Error()})
		}
	}

	sm := shutdown.New(cfg.ShutdownTimeout, logger)
	ctx, stop := sm.SignalContext(context.Background())
	defer stop()

	var middleware []mux.MiddlewareFunc
	if cfg.Tracing.Enabled {
		provider, err := tracing.Init(ctx, tracing.Config{
			Enabled:        true,
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: Version,
			Endpoint:       cfg.Tracing.Endpoint,
		}, pid)
		if err != nil {
			logger.Error("Failed to initialize tracing", logging.Fields{"error": err.Error()})
			return err
		}
		sm.Register("tracing", provider.Shutdown)
		middleware = append(middleware, provider.Middleware)
	}

	w := worker.New(worker.Config{
		Addr:            cfg.Addr(),
		Listener:        cfg.ListenerMode(),
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, worker.NewRouter(pid, middleware...), logger)

	err = w.Serve(ctx)
	sm.Shutdown()
	if err != nil {
		logger.Error(fmt.Sprintf("Worker %d failed", pid), logging.Fields{"error": err.Error()})
		return err
	}
	return nil
}
