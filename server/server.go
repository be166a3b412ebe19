package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/feed/ws"
	"github.com/hupe1980/streamchat/knowledge"
	"github.com/hupe1980/streamchat/logging"
	"github.com/hupe1980/streamchat/model"
)

// Environment names accepted by Config.Environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// defaultSystemPrompt is rendered per request with "concepts" (names of the
// retrieved concepts) and "user_id".
const defaultSystemPrompt = `You are a thoughtful assistant specialized in analytical psychology.
Answer clearly and warmly, ground your explanations in the concepts you know,
and name the works you draw on when it helps the reader.
{{- if .concepts}}
Concepts relevant to this question: {{join ", " .concepts}}.
{{- end}}`

// Config holds the tunables of the chat server.
type Config struct {
	// MaxResults is the number of concepts retrieved per question.
	MaxResults int
	// DescriptionLimit truncates concept descriptions, in runes.
	DescriptionLimit int
	// ReferenceLimit caps the references attached to an answer.
	ReferenceLimit int
	// SystemPrompt is sent as model instructions. It may use template
	// markers, see defaultSystemPrompt.
	SystemPrompt string
	// MaxConcurrentStreams caps concurrent generations; 0 is unlimited.
	MaxConcurrentStreams int
	// Environment selects the CORS policy: development allows every origin,
	// production only AllowedOrigins.
	Environment    string
	AllowedOrigins []string
	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		MaxResults:           3,
		DescriptionLimit:     200,
		ReferenceLimit:       5,
		SystemPrompt:         defaultSystemPrompt,
		MaxConcurrentStreams: 64,
		Environment:          EnvDevelopment,
		ShutdownTimeout:      10 * time.Second,
	}
}

// Querier answers /api/query. knowledge.Base implements it.
type Querier interface {
	Query(ctx context.Context, query string, limit int) ([]knowledge.Result, error)
}

// Options configures a Server.
type Options struct {
	Config Config

	// Store supplies prior history for a conversation. Optional.
	Store core.ConversationStore
	// Retrieval supplies concepts and references. Optional.
	Retrieval core.RetrievalProvider
	// Querier serves /api/query. Optional.
	Querier Querier
	// Feed enables GET /api/feed. Optional.
	Feed core.ChangeFeed

	// Verify checks the bearer token. The default accepts any non-empty token.
	Verify func(ctx context.Context, token string) error
	// HealthCheck probes dependencies for /api/health. Optional.
	HealthCheck func(ctx context.Context) error

	Logger logging.Logger
	Now    func() time.Time
}

// Server serves the chat API.
type Server struct {
	model     model.Model
	config    Config
	store     core.ConversationStore
	retrieval core.RetrievalProvider
	querier   Querier
	verify    func(ctx context.Context, token string) error
	health    func(ctx context.Context) error
	limiter   *streamLimiter
	logger    logging.Logger
	now       func() time.Time
	router    *gin.Engine
}

// New creates a Server generating replies with m.
func New(m model.Model, optFns ...func(o *Options)) *Server {
	opts := Options{
		Config: DefaultConfig(),
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Verify == nil {
		opts.Verify = func(context.Context, string) error { return nil }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	def := DefaultConfig()
	if opts.Config.MaxResults <= 0 {
		opts.Config.MaxResults = def.MaxResults
	}
	if opts.Config.DescriptionLimit <= 0 {
		opts.Config.DescriptionLimit = def.DescriptionLimit
	}
	if opts.Config.ReferenceLimit <= 0 {
		opts.Config.ReferenceLimit = def.ReferenceLimit
	}
	if opts.Config.ShutdownTimeout <= 0 {
		opts.Config.ShutdownTimeout = def.ShutdownTimeout
	}

	s := &Server{
		model:     m,
		config:    opts.Config,
		store:     opts.Store,
		retrieval: opts.Retrieval,
		querier:   opts.Querier,
		verify:    opts.Verify,
		health:    opts.HealthCheck,
		limiter:   newStreamLimiter(opts.Config.MaxConcurrentStreams),
		logger:    logging.OrNoOp(opts.Logger),
		now:       opts.Now,
	}
	s.router = s.routes(opts.Feed)
	return s
}

func (s *Server) routes(feed core.ChangeFeed) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.cors())

	r.GET("/", s.handleRoot)
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/startup-check", s.handleStartupCheck)
	r.POST("/api/query", s.handleQuery)
	r.POST("/api/chat", s.requireBearer(), s.handleChat)

	if feed != nil {
		feedServer := ws.NewServer(feed, func(o *ws.ServerOptions) {
			o.Logger = s.logger
			o.CheckOrigin = s.originAllowed
		})
		r.GET("/api/feed", gin.WrapH(feedServer))
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", addr, "model", s.model.Info().Name, "environment", s.config.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Server shutting down", "addr", addr)
	return srv.Shutdown(shutdownCtx)
}
