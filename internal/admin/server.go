// Package admin serves the local HTTP admin panel: status, command
// execution, memory browsing, a live event stream and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/events"
	"github.com/iged-project/iged/internal/memory"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/orchestrator"
	"github.com/iged-project/iged/internal/parser"
	"github.com/iged-project/iged/internal/voice"
	"github.com/iged-project/iged/internal/watchdog"
)

type Orchestrator interface {
	Submit(in model.TaskInput) (string, error)
	Task(id string) (model.Task, error)
	Tasks() orchestrator.TaskList
	Status() orchestrator.Status
	Health() orchestrator.Health
	AvailableAgents() []string
	AvailablePlugins() []string
	LoadFailures() []orchestrator.FailureInfo
	RunPlugin(ctx context.Context, name, input string) (string, error)
}

type Memory interface {
	Recent(limit int) []model.MemoryEntry
	Search(query string, limit int) []model.MemoryEntry
	Statistics() memory.Statistics
	Health() memory.Health
	DeleteEntry(id string) (bool, error)
	Clear() error
	Export(path string) (int, error)
}

type Voice interface {
	ProcessText(text, source string) (voice.Result, error)
	Toggle() bool
	Status() voice.Status
}

type Watchdog interface {
	Latest() (watchdog.Report, bool)
}

type EventSource interface {
	SubscribeAll(fn events.Subscriber) func()
}

type Deps struct {
	Orchestrator Orchestrator
	Memory       Memory
	Voice        Voice
	Watchdog     Watchdog
	Events       EventSource
	Parser       *parser.Parser
	Gatherer     prometheus.Gatherer
	Logger       zerolog.Logger
}

type Options struct {
	Addr       string
	ExportsDir string
	Version    string
}

type Server struct {
	deps    Deps
	opts    Options
	log     zerolog.Logger
	engine  *gin.Engine
	started time.Time

	upgrader websocket.Upgrader
	streams  *streamSet
}

func New(deps Deps, opts Options) *Server {
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if deps.Parser == nil {
		deps.Parser = parser.New()
	}
	s := &Server{
		deps:    deps,
		opts:    opts,
		log:     deps.Logger.With().Str("component", "admin").Logger(),
		engine:  gin.New(),
		started: time.Now(),
		streams: newStreamSet(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}
	s.engine.Use(gin.Recovery(), requestLogger(s.log))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/", s.handleIndex)
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/health", s.handleHealth)
	api.POST("/execute", s.handleExecute)
	api.POST("/parse", s.handleParse)
	api.GET("/agents", s.handleAgents)
	api.POST("/plugins/:name/run", s.handleRunPlugin)
	api.POST("/voice/toggle", s.handleVoiceToggle)
	api.GET("/events", s.handleEvents)

	tasks := api.Group("/tasks")
	{
		tasks.GET("", s.handleListTasks)
		tasks.POST("", s.handleSubmitTask)
		tasks.GET("/:id", s.handleGetTask)
	}

	mem := api.Group("/memory")
	{
		mem.GET("", s.handleMemory)
		mem.GET("/search", s.handleMemorySearch)
		mem.GET("/stats", s.handleMemoryStats)
		mem.POST("/clear", s.handleMemoryClear)
		mem.POST("/export", s.handleMemoryExport)
		mem.DELETE("/:id", s.handleMemoryDelete)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on opts.Addr until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("admin panel listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	s.streams.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	s.log.Info().Msg("admin panel stopped")
	return nil
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// sameOrigin allows websocket upgrades from non-browser clients and from
// pages served by this host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
