package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/psantana5/prefork/internal/config"
	"github.com/psantana5/prefork/internal/cpus"
	"github.com/psantana5/prefork/internal/listener"
	"github.com/psantana5/prefork/internal/supervisor"
	"github.com/psantana5/prefork/pkg/logging"
	"github.com/psantana5/prefork/pkg/shutdown"
)

func runSupervisor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	base, err := logging.Open(cfg.LoggingOptions())
	if err != nil {
		return err
	}
	defer base.Close()

	runID := uuid.New().String()
	logger := base.WithFields(logging.Fields{"component": "supervisor", "run_id": runID})

	sm := shutdown.New(cfg.ShutdownTimeout, logger)
	ctx, stop := sm.SignalContext(context.Background())
	defer stop()

	spawner, err := supervisor.NewSelfSpawner(workerArgs(cfg)...)
	if err != nil {
		return err
	}
	spawner.Env = []string{supervisor.EnvRunID + "=" + runID}

	if cfg.ListenerMode() == listener.ModeInherit {
		shared, err := listener.BindShared(ctx, cfg.Addr())
		if err != nil {
			logger.Error("Failed to bind shared listener", logging.Fields{"addr": cfg.Addr(), "error": err.Error()})
			return err
		}
		sm.Register("shared listener", shutdown.CloseResource(shared, "shared listener"))
		spawner.ExtraFiles = []*os.File{shared.File()}
		logger.Info("Bound shared listener", logging.Fields{"addr": shared.Addr().String()})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := supervisor.NewMetrics(reg)

	sup := supervisor.New(supervisor.Options{
		Workers:     cfg.Workers,
		Detect:      cpus.Parallelism,
		Restart:     restartPolicy(cfg),
		StopTimeout: cfg.ShutdownTimeout,
		RunID:       runID,
	}, spawner, logger, metrics)

	if cfg.AdminAddr != "" {
		if err := startAdmin(cfg.AdminAddr, supervisor.NewAdminHandler(sup, reg), sm, logger); err != nil {
			return err
		}
	}

	err = sup.Run(ctx)
	sm.Shutdown()
	return err
}

// workerArgs are the arguments each worker is re-executed with
func workerArgs(cfg *config.Config) []string {
	args := []string{
		"worker",
		"--host", cfg.Host,
		"--port", strconv.Itoa(cfg.Port),
		"--listener", string(cfg.ListenerMode()),
		"--shutdown-timeout", cfg.ShutdownTimeout.String(),
		"--log-level", cfg.Log.Level,
		"--log-format", cfg.Log.Format,
	}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	return args
}

func restartPolicy(cfg *config.Config) supervisor.RestartPolicy {
	return supervisor.RestartPolicy{
		Enabled:        cfg.RestartOnExit,
		MaxRestarts:    cfg.Restart.MaxRestarts,
		Window:         cfg.Restart.Window,
		InitialBackoff: cfg.Restart.InitialBackoff,
		MaxBackoff:     cfg.Restart.MaxBackoff,
		Multiplier:     cfg.Restart.Multiplier,
	}
}

func startAdmin(addr string, handler *supervisor.AdminHandler, sm *shutdown.Manager, logger *logging.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind admin API on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server error", logging.Fields{"error": err.Error()})
		}
	}()
	sm.Register("admin server", shutdown.StopHTTPServer(srv, "admin"))

	logger.Info("Admin API listening", logging.Fields{"addr": ln.Addr().String()})
	return nil
}
