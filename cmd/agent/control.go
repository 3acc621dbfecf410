package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running agent's status",
	Long: `Query the running agent's control server.

Examples:
  curator-agent status
  curator-agent status --listen 127.0.0.1:7979`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callControl(cmd.Context(), http.MethodGet, "/status", nil)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Merge the backend's saved urls into the agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callControl(cmd.Context(), http.MethodPost, "/sync", nil)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Forget tracked urls and the last analysis",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callControl(cmd.Context(), http.MethodPost, "/cache/clear", nil)
	},
}

var thresholdCmd = &cobra.Command{
	Use:   "threshold [value]",
	Short: "Show or change the quality threshold",
	Long: `Show the running agent's threshold, or set it.

Values in [0,1] are read as fractions.

Examples:
  curator-agent threshold
  curator-agent threshold 70
  curator-agent threshold 0.7`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return callControl(cmd.Context(), http.MethodGet, "/settings/threshold", nil)
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("threshold must be a number: %w", err)
		}
		return callControl(cmd.Context(), http.MethodPut, "/settings/threshold", map[string]float64{"threshold": v})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [url]",
	Short: "Analyze a page now, or save the last analysis",
	Long: `Analyze a page immediately through the running agent.

Without a url and with --save, the most recent analysis is submitted
regardless of the threshold.

Examples:
  curator-agent analyze https://go.dev/blog/pipelines
  curator-agent analyze https://go.dev/blog/pipelines --save
  curator-agent analyze --save`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		save, _ := cmd.Flags().GetBool("save")
		req := map[string]interface{}{"save": save}
		if len(args) == 1 {
			req["url"] = args[0]
		}
		return callControl(cmd.Context(), http.MethodPost, "/analyze", req)
	},
}

func init() {
	analyzeCmd.Flags().Bool("save", false, "submit regardless of the threshold")
	rootCmd.AddCommand(statusCmd, syncCmd, clearCmd, thresholdCmd, analyzeCmd)
}

// controlTimeout bounds a single call to the local control server. Manual
// analysis runs the full pipeline, so it is longer than a status check needs.
const controlTimeout = 2 * time.Minute

var controlClient = &http.Client{Timeout: controlTimeout}

// callControl sends a request to the local control server and prints the
// JSON response
func callControl(ctx context.Context, method, path string, body interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+cfg.Listen+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := controlClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", cfg.Listen, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		out.Reset()
		out.Write(raw)
	}
	out.WriteByte('\n')
	os.Stdout.Write(out.Bytes())

	if resp.StatusCode >= 400 {
		return fmt.Errorf("agent returned %d", resp.StatusCode)
	}
	return nil
}
