package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/prefork/internal/config"
)

// Version is set at build time with -ldflags
var Version = "dev"

var (
	cfgFile string
	v       = config.NewViper()
)

// rootCmd runs the supervisor when invoked without a subcommand
var rootCmd = &cobra.Command{
	Use:   "prefork",
	Short: "Pre-forking HTTP server",
	Long: `prefork starts one worker process per usable CPU. Every worker serves
HTTP on the same port and the kernel spreads connections across them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSupervisor,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

// flagKeys maps persistent flags to config keys
var flagKeys = map[string]string{
	"workers":          "workers",
	"port":             "port",
	"host":             "host",
	"listener":         "listener",
	"restart-on-exit":  "restart_on_exit",
	"admin-addr":       "admin_addr",
	"shutdown-timeout": "shutdown_timeout",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./prefork.yaml or $HOME/.prefork/config.yaml)")
	flags.Int("workers", 0, "number of worker processes, 0 for one per usable CPU")
	flags.Int("port", 3000, "port the workers serve on")
	flags.String("host", "", "host the workers bind, empty for all interfaces")
	flags.String("listener", "inherit", "how workers share the port: inherit or reuseport")
	flags.Bool("restart-on-exit", false, "restart workers that exit")
	flags.String("admin-addr", "", "supervisor admin API address, empty to disable")
	flags.Duration("shutdown-timeout", 10*time.Second, "time allowed for graceful shutdown")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// initConfig reads in the config file if one is set or found
func initConfig() {
	path := cfgFile
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", path, err)
		os.Exit(1)
	}
	// Workers are re-executed with the resolved file.
	if abs, err := filepath.Abs(path); err == nil {
		cfgFile = abs
	}
}

func findConfig() string {
	candidates := []string{"prefork.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".prefork", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
