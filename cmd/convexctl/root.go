package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/convex-community/convex-go/client"
	"github.com/convex-community/convex-go/config"
	"github.com/convex-community/convex-go/version"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Deployment string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "convexctl",
		Short:         "Command-line client for a Convex deployment",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Deployment, "deployment", os.Getenv("CONVEX_URL"), "deployment URL (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newPagesCommand(opts))

	return cmd
}

// newClient builds a client from --config or --deployment.
func (o *rootOptions) newClient() (*client.Client, error) {
	logLevel := slog.LevelInfo
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	var cfg *config.ClientConfig
	switch {
	case o.ConfigPath != "":
		var err error
		cfg, err = config.LoadAndValidate(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		if o.Deployment != "" {
			cfg.Deployment.URL = o.Deployment
			cfg.Deployment.WSURL = ""
			cfg.ApplyDefaults()
		}
	case o.Deployment != "":
		cfg = config.Default(o.Deployment)
	default:
		return nil, fmt.Errorf("either --config or --deployment (or CONVEX_URL) is required")
	}

	return client.New(cfg, client.WithLogger(logger))
}

// parseArgs decodes a --args JSON object into call arguments.
func parseArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parse --args: %w", err)
	}
	return args, nil
}
