package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/streamchat/logging"
)

const envPrefix = "STREAMCHAT_"

type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "streamchat",
		Short:         "Streaming chat server and terminal client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", envOr("LOG_FORMAT", "console"), "log format (console, json, text)")

	cmd.AddCommand(newServeCmd(g), newChatCmd(g))
	return cmd
}

// envOr returns the STREAMCHAT_-prefixed environment variable or def.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v
	}
	return def
}

// newLogger builds the logger selected by the global flags.
func (g *globalFlags) newLogger(w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}
	switch g.logFormat {
	case "console":
		return logging.NewConsoleLogger(w, level), nil
	case "json", "text":
		cfg := logging.DefaultLoggerConfig()
		cfg.Level = level
		cfg.Format = g.logFormat
		cfg.Output = w
		return logging.NewLogger(cfg), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", g.logFormat)
	}
}
