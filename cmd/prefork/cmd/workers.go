package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/prefork/internal/supervisor"
)

var (
	adminURL      string
	workersOutput string
)

// workersCmd lists worker slots of a running supervisor
var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List the workers of a running supervisor",
	Long:  `Query the admin API of a running supervisor and display every worker slot.`,
	Args:  cobra.NoArgs,
	RunE:  runWorkersList,
}

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.Flags().StringVar(&adminURL, "admin", "http://localhost:9090", "supervisor admin API URL")
	workersCmd.Flags().StringVar(&workersOutput, "output", "table", "output format: table or json")
}

func runWorkersList(cmd *cobra.Command, args []string) error {
	url := strings.TrimRight(adminURL, "/") + "/workers"

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to admin API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var status supervisor.Status
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if workersOutput == "json" {
		output, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		return nil
	}

	renderWorkers(cmd.OutOrStdout(), status)
	return nil
}

func renderWorkers(out io.Writer, status supervisor.Status) {
	fmt.Fprintf(out, "Supervisor %d (run %s)\n\n", status.PID, status.RunID)

	table := tablewriter.NewWriter(out)
	table.Header("Slot", "PID", "State", "Uptime", "Restarts", "Last Exit")

	now := time.Now()
	for _, w := range status.Workers {
		state := "dead"
		uptime := "-"
		switch {
		case w.Alive:
			state = "alive"
			uptime = now.Sub(w.StartedAt).Round(time.Second).String()
		case w.RestartPending:
			state = "restarting"
		}

		lastExit := "-"
		if w.LastExit != nil {
			lastExit = w.LastExit.String()
		}

		table.Append(
			strconv.Itoa(w.Slot),
			strconv.Itoa(w.PID),
			state,
			uptime,
			strconv.Itoa(w.Restarts),
			lastExit,
		)
	}

	table.Render()
	fmt.Fprintf(out, "\nAlive: %d/%d\n", status.Alive, status.Desired)
}
