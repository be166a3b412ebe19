// Package transport implements core.Dispatcher over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/logging"
)

var _ core.Dispatcher = (*HTTPDispatcher)(nil)

// Config holds dispatcher settings.
type Config struct {
	// Endpoint is the chat URL requests are POSTed to.
	Endpoint string
	// Timeout bounds the wait for response headers. The body is streamed
	// without a deadline.
	Timeout time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{Endpoint: "http://localhost:8000/api/chat", Timeout: 10 * time.Second}
}

// Options configures an HTTPDispatcher.
type Options struct {
	Config Config
	// Client overrides the HTTP client. Its transport should not buffer
	// response bodies.
	Client *http.Client
	Logger logging.Logger
}

// HTTPDispatcher POSTs chat requests and returns the streaming body.
type HTTPDispatcher struct {
	cfg    Config
	client *http.Client
	logger logging.Logger
}

// NewHTTPDispatcher creates a dispatcher.
func NewHTTPDispatcher(optFns ...func(o *Options)) *HTTPDispatcher {
	opts := Options{Config: DefaultConfig()}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.Client
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = opts.Config.Timeout
		client = &http.Client{Transport: tr}
	}

	return &HTTPDispatcher{cfg: opts.Config, client: client, logger: logging.OrNoOp(opts.Logger)}
}

// Dispatch sends req. Network and timeout failures are returned as
// core.TransportError, 401/403 as core.AuthError and any other non-2xx
// status as core.DispatchError.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req core.ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ctxErr
		}
		return nil, &core.TransportError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		drain(resp.Body)
		return nil, &core.AuthError{Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := errorBody(resp.Body)
		d.logger.Warn("Chat request rejected", "status", resp.StatusCode, "body", msg)
		return nil, &core.DispatchError{Status: resp.StatusCode, Body: msg}
	}

	return resp.Body, nil
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	_ = rc.Close()
}

func errorBody(rc io.ReadCloser) string {
	defer rc.Close()

	raw, _ := io.ReadAll(io.LimitReader(rc, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}

// StaticCredentials is a CredentialProvider returning a fixed token.
type StaticCredentials struct {
	Token string
	// OnReauthenticate, if set, is invoked when the token was rejected.
	OnReauthenticate func(ctx context.Context) error
}

var (
	_ core.CredentialProvider = (*StaticCredentials)(nil)
	_ core.Reauthenticator    = (*StaticCredentials)(nil)
)

// Credential returns the token.
func (c *StaticCredentials) Credential(context.Context) (string, error) {
	return c.Token, nil
}

// Reauthenticate forwards the redirect signal.
func (c *StaticCredentials) Reauthenticate(ctx context.Context) error {
	if c.OnReauthenticate == nil {
		return nil
	}
	return c.OnReauthenticate(ctx)
}
