// Package web serves the pipeline over HTTP: the /v1 JSON API, a
// server-sent event stream, a live event websocket, the remote-control
// websocket and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fws "github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-parley/pkg/engine"
	"github.com/teslashibe/go-parley/pkg/hub"
)

// Config holds HTTP server settings.
type Config struct {
	// Addr is the listen address.
	Addr string `mapstructure:"addr" yaml:"addr"`

	// StreamTimeout ends a /v1/stream response once no event has arrived
	// for this long. Zero keeps streams open until the client leaves or
	// the server shuts down.
	StreamTimeout time.Duration `mapstructure:"stream_timeout" yaml:"stream_timeout"`

	// StatusTimeout bounds backend availability probes in /v1/status.
	StatusTimeout time.Duration `mapstructure:"status_timeout" yaml:"status_timeout"`

	// Version is reported by /v1/health.
	Version string `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Addr:          "127.0.0.1:8370",
		StreamTimeout: 30 * time.Second,
		StatusTimeout: 3 * time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithConfig sets the server settings.
func WithConfig(cfg Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer sets the metrics source served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// Server is the HTTP surface of one engine.
type Server struct {
	app      *fiber.App
	cfg      Config
	engine   *engine.Engine
	events   *hub.Hub
	remote   *Remote
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	started  time.Time

	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
}

// NewServer creates a server for eng. The event hub starts immediately
// and runs until Shutdown.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		cfg:      DefaultConfig(),
		engine:   eng,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.events = hub.New("events", s.logger)
	go s.events.Run(ctx)
	s.events.Attach(eng.Bus())

	s.remote = NewRemote(eng, s.logger)
	s.remote.Attach(eng.Bus())

	app := fiber.New(fiber.Config{
		AppName:               "parley",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	v1 := app.Group("/v1")
	v1.Post("/utterance", s.handleUtterance)
	v1.Get("/health", s.handleHealth)
	v1.Get("/status", s.handleStatus)
	v1.Get("/stream", s.handleStream)
	v1.Post("/confirm", s.handleConfirm)
	v1.Get("/refiner", s.handleGetRefiner)
	v1.Post("/refiner", s.handleSetRefiner)
	v1.Get("/runs", s.handleListRuns)
	v1.Get("/runs/:id", s.handleGetRun)
	v1.Get("/events", s.handleEvents)

	v1.Use("/ws", upgradeOnly)
	v1.Get("/ws", fws.New(s.events.Serve))
	v1.Use("/remote", upgradeOnly)
	s.remote.RegisterRoutes(v1)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.app = app
	return s
}

func upgradeOnly(c *fiber.Ctx) error {
	if fws.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// errorHandler renders every error as {"error": ...}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// App returns the fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Remote returns the remote-control channel.
func (s *Server) Remote() *Remote { return s.remote }

// EventClients returns the number of /v1/ws clients.
func (s *Server) EventClients() int { return s.events.ClientCount() }

// ListenAndServe serves on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("api listening", "addr", ln.Addr().String())
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown ends open streams, stops the event hub and the HTTP server.
func (s *Server) Shutdown() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
	return s.app.ShutdownWithTimeout(5 * time.Second)
}
