// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// passkeyd is the standalone passkey ceremony server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/authforge/go-passkey/internal/config"
	"github.com/authforge/go-passkey/internal/server"
)

// Version information (injected at build time via -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "passkeyd",
	Short: "passkeyd - WebAuthn credential ceremony server",
	Long: `passkeyd serves passkey registration and authentication ceremonies
over HTTP. It issues challenge-bound options, verifies authenticator
responses, detects cloned authenticators through signature counters,
and creates user accounts only after a credential proves out.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ceremony server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("passkeyd version %s\n", Version)
		fmt.Printf("Git commit: %s\n", GitCommit)
		fmt.Printf("Build date: %s\n", BuildDate)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "passkeyd.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

func runServe() error {
	if envConfig := os.Getenv("PASSKEY_CONFIG"); envConfig != "" && configPath == "" {
		configPath = envConfig
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("Starting passkeyd",
		"version", Version,
		"config", configPath,
		"rp_id", cfg.RelyingParty.ID)

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	shutdownCtx := server.SetupSignalHandler()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	<-shutdownCtx.Done()
	return srv.Shutdown()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (defaults plus PASSKEY_* environment when empty)")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("passkeyd failed", slog.Any("error", err))
		os.Exit(1)
	}
}
