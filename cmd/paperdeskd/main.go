// paperdeskd — multi-tenant paper-trading platform daemon.
//
// Main CLI entrypoint using the cobra command framework.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paperdesk/paperdeskd/api"
	"github.com/paperdesk/paperdeskd/internal/config"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config, populated by PersistentPreRunE before any subcommand runs.
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paperdeskd",
	Short: "paperdeskd — multi-tenant paper-trading platform",
	Long: `paperdeskd runs a rule-driven paper-trading engine: it evaluates
user-defined algorithms against live market data, simulates fills against a
per-user ledger, and exposes the whole thing over an HTTP API.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("paperdeskd %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP REST API server that exposes algorithm/rule CRUD,
paper-trading account and order operations, stock quotes and history, and
backtest run/poll endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port != 0 {
			cfg.Server.Port = port
		}
		host, _ := cmd.Flags().GetString("host")
		if host != "" {
			cfg.Server.Host = host
		}

		srv, err := api.NewServer(cfg)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		defer srv.Close()

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("paperdeskd serving on %s\n", resolveDisplayAddr(cfg.Server.Host, cfg.Server.Port))
		fmt.Printf("  API:  http://%s/api/v1\n", resolveDisplayAddr(cfg.Server.Host, cfg.Server.Port))
		fmt.Println("  Press Ctrl+C to stop")

		return srv.ListenAndServe(addr)
	},
}

// resolveDisplayAddr returns a display-friendly address (replaces 0.0.0.0 with localhost).
func resolveDisplayAddr(host string, port int) string {
	if host == "" || host == "0.0.0.0" {
		return fmt.Sprintf("localhost:%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "server port (default from config)")
	serveCmd.Flags().String("host", "", "server host (default from config)")
}
