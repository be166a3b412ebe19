package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/streamchat/knowledge"
	"github.com/hupe1980/streamchat/logging"
	"github.com/hupe1980/streamchat/model"
	"github.com/hupe1980/streamchat/model/anthropic"
	"github.com/hupe1980/streamchat/model/openai"
	"github.com/hupe1980/streamchat/server"
	"github.com/hupe1980/streamchat/store"
)

var errInvalidToken = errors.New("token mismatch")

type serveFlags struct {
	addr           string
	model          string
	env            string
	allowedOrigins string
	token          string
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat stream server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := g.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			m, err := newModel(f.model)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, f, m, logger)
		},
	}

	cmd.Flags().StringVar(&f.addr, "addr", envOr("ADDR", ":8000"), "listen address")
	cmd.Flags().StringVar(&f.model, "model", envOr("MODEL", "mock"), "model provider (mock, openai, anthropic)")
	cmd.Flags().StringVar(&f.env, "env", envOr("ENV", server.EnvDevelopment), "environment (development, production)")
	cmd.Flags().StringVar(&f.allowedOrigins, "allowed-origins", envOr("ALLOWED_ORIGINS", ""), "comma-separated origins allowed in production")
	cmd.Flags().StringVar(&f.token, "token", envOr("TOKEN", ""), "required bearer token (any token when empty)")

	return cmd
}

func runServer(ctx context.Context, f *serveFlags, m model.Model, logger logging.Logger) error {
	if f.env != server.EnvDevelopment && f.env != server.EnvProduction {
		return fmt.Errorf("unknown environment %q", f.env)
	}

	st := store.NewInMemoryStore(func(o *store.Options) { o.Logger = logger })
	base := knowledge.NewSampleBase()

	srv := server.New(m, func(o *server.Options) {
		o.Config.Environment = f.env
		o.Config.AllowedOrigins = splitList(f.allowedOrigins)
		o.Store = st
		o.Feed = st
		o.Retrieval = base
		o.Querier = base
		o.Logger = logger
		if f.token != "" {
			o.Verify = func(_ context.Context, token string) error {
				if token != f.token {
					return errInvalidToken
				}
				return nil
			}
		}
		o.HealthCheck = func(context.Context) error {
			if base.Len() == 0 {
				return errors.New("knowledge base is empty")
			}
			return nil
		}
	})

	return srv.ListenAndServe(ctx, f.addr)
}

// newModel selects the model provider by name.
func newModel(name string) (model.Model, error) {
	switch name {
	case "mock":
		m := model.NewMockModel("I am a mock model. Set --model to openai or anthropic for real answers about the Shadow and Individuation.")
		return m, nil
	case "openai":
		if os.Getenv("OPENAI_API_KEY") == "" {
			return nil, errors.New("OPENAI_API_KEY environment variable is required")
		}
		return openai.NewModel(), nil
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, errors.New("ANTHROPIC_API_KEY environment variable is required")
		}
		return anthropic.NewModel(func(o *anthropic.Options) { o.APIKey = key }), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", name)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
