package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/logging"
)

var _ core.ChangeFeed = (*Client)(nil)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Token is sent as a bearer credential on the handshake.
	Token string
	// ReconnectInterval is the first delay before reconnecting; it doubles
	// up to MaxReconnectInterval.
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	Dialer               *websocket.Dialer
	Logger               logging.Logger
}

// Client subscribes to a remote change feed served by Server.
type Client struct {
	endpoint string
	opts     ClientOptions
	logger   logging.Logger
}

// NewClient creates a Client for the feed endpoint (ws:// or wss:// URL).
func NewClient(endpoint string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
		Dialer:               websocket.DefaultDialer,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{endpoint: endpoint, opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// Subscribe dials the feed for ownerID. The first dial is synchronous; after
// a dropped connection the client reconnects with backoff until ctx is done.
// Each successful reconnect is announced with a core.ChangeResync
// notification since changes made while disconnected are not replayed.
func (c *Client) Subscribe(ctx context.Context, ownerID string) (<-chan core.ChangeNotification, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse feed endpoint: %w", err)
	}
	q := u.Query()
	q.Set("owner", ownerID)
	u.RawQuery = q.Encode()
	target := u.String()

	conn, err := c.dial(ctx, target)
	if err != nil {
		return nil, err
	}

	out := make(chan core.ChangeNotification)
	go func() {
		defer close(out)
		delay := c.opts.ReconnectInterval
		for {
			c.pump(ctx, conn, out)
			if ctx.Err() != nil {
				return
			}

			for {
				c.logger.Warn("Change feed disconnected, reconnecting", "owner_id", ownerID, "delay", delay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				delay = min(delay*2, c.opts.MaxReconnectInterval)

				if conn, err = c.dial(ctx, target); err == nil {
					delay = c.opts.ReconnectInterval
					break
				}
			}

			c.logger.Info("Change feed reconnected", "owner_id", ownerID)
			select {
			case out <- core.ChangeNotification{Type: core.ChangeResync, OwnerID: ownerID}:
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	return out, nil
}

func (c *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &core.AuthError{Status: resp.StatusCode}
		}
		return nil, &core.TransportError{Err: err}
	}
	return conn, nil
}

// pump forwards notifications from conn until it fails or ctx is done.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn, out chan<- core.ChangeNotification) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		var n core.ChangeNotification
		if err := conn.ReadJSON(&n); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("Change feed read failed", "error", err.Error())
			}
			return
		}
		select {
		case out <- n:
		case <-ctx.Done():
			return
		}
	}
}
