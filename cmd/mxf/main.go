// Package main provides the mxf CLI: the agent runtime for the Model
// Exchange Framework.
//
// # Basic Usage
//
// Run an agent:
//
//	mxf serve --config agent.yaml
//
// Provision a channel and credentials:
//
//	mxf channel:create support
//	mxf key:generate --channel support --agent helper
//
// Guided setup:
//
//	mxf setup:interactive
//
// # Environment Variables
//
//   - MXF_CONFIG: path to the configuration file (default: mxf.yaml)
//   - MXF_AGENT_ID, MXF_CHANNEL_ID: identity overrides
//   - MXF_API_KEY: LLM provider API key
//   - MXF_GATEWAY_URL, MXF_DOMAIN_KEY: exchange server connection
//   - MXF_<CHANNEL>_<AGENT>_KEY_ID / _SECRET_KEY: issued credentials
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelexchange/mxf/pkg/models"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps failures to the CLI contract: 1 validation or auth,
// 2 server failure, 3 timeout.
func exitCode(err error) int {
	var cfgErr *models.ConfigError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &cfgErr),
		errors.Is(err, models.ErrAuth):
		return 1
	case errors.Is(err, models.ErrTimeout),
		errors.Is(err, models.ErrInitTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return 3
	default:
		return 2
	}
}
