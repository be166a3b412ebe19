package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/streamchat"
	"github.com/hupe1980/streamchat/feed/ws"
	"github.com/hupe1980/streamchat/transport"
)

type chatFlags struct {
	endpoint string
	token    string
	user     string
	feed     string
}

func newChatCmd(g *globalFlags) *cobra.Command {
	f := &chatFlags{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a streamchat server from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := g.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dispatcher := transport.NewHTTPDispatcher(func(o *transport.Options) {
				o.Config.Endpoint = f.endpoint
				o.Logger = logger
			})

			client := streamchat.New(dispatcher, func(o *streamchat.Options) {
				o.UserID = f.user
				o.Credentials = &transport.StaticCredentials{Token: f.token}
				o.Logger = logger
				if f.feed != "" {
					o.Feed = ws.NewClient(f.feed, func(wo *ws.ClientOptions) {
						wo.Token = f.token
						wo.Logger = logger
					})
				}
			})
			defer client.Close()

			if _, err := client.Watch(ctx); err != nil {
				logger.Warn("Change feed unavailable", "error", err.Error())
			}

			return newREPL(client, cmd.OutOrStdout()).run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&f.endpoint, "endpoint", envOr("ENDPOINT", transport.DefaultConfig().Endpoint), "chat endpoint URL")
	cmd.Flags().StringVar(&f.token, "token", envOr("TOKEN", "dev-token"), "bearer token")
	cmd.Flags().StringVar(&f.user, "user", envOr("USER", "local"), "user id")
	cmd.Flags().StringVar(&f.feed, "feed", envOr("FEED", ""), "change feed WebSocket URL (optional)")

	return cmd
}
