package grantd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"pkt.systems/grantd/internal/clock"
	"pkt.systems/grantd/internal/core"
	"pkt.systems/grantd/internal/httpapi"
	"pkt.systems/grantd/internal/session"
	"pkt.systems/grantd/internal/svcfields"
	"pkt.systems/grantd/internal/token"
	"pkt.systems/pslog"
)

// Server wraps the HTTP server, the grant flow, and supporting components.
type Server struct {
	cfg          Config
	logger       pslog.Logger
	flow         *core.Service
	handler      *httpapi.Handler
	httpSrv      *http.Server
	listener     net.Listener
	clock        clock.Clock
	telemetry    *telemetryBundle
	lastServeErr error

	mu          sync.Mutex
	shutdown    bool
	sweeperStop chan struct{}
	sweeperDone sync.WaitGroup
	readyOnce   sync.Once
	readyCh     chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Clock        clock.Clock
	Sessions     session.Resolver
	OTLPEndpoint string
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithSessionResolver overrides how resource owners are identified. The
// default validates signed session cookies against Config.SessionSecret.
func WithSessionResolver(r session.Resolver) Option {
	return func(o *options) {
		o.Sessions = r
	}
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// NewServer constructs a grantd server according to cfg.
// Example:
//
//	cfg := grantd.Config{Listen: ":8000", SessionSecret: "dev-secret"}
//	srv, err := grantd.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	cfgCopy := cfg
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfgCopy.Validate(); err != nil {
		return nil, err
	}
	cfg = cfgCopy
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	var telemetry *telemetryBundle
	otlpEndpoint := cfg.OTLPEndpoint
	if o.OTLPEndpoint != "" {
		otlpEndpoint = o.OTLPEndpoint
	}
	var err error
	if otlpEndpoint != "" || cfg.MetricsListen != "" || cfg.PprofListen != "" {
		telemetry, err = setupTelemetry(context.Background(), otlpEndpoint,
			cfg.MetricsListen, cfg.PprofListen, cfg.EnableProfilingMetrics,
			svcfields.WithSubsystem(logger, "telemetry"))
		if err != nil {
			return nil, err
		}
	}

	serverClock := o.Clock
	if serverClock == nil {
		serverClock = clock.Real{}
	}

	gen := &token.Generator{}
	registry := core.NewRegistry()
	for _, client := range cfg.clientList() {
		if err := registry.Register(client); err != nil {
			shutdownTelemetry(telemetry)
			return nil, err
		}
		logger.Info("client registered", "client_id", client.ID, "redirect_uri", client.RedirectURI, "scope", client.Scope.String())
	}
	flow := core.NewService(
		registry,
		core.NewCodeStore(gen, cfg.CodeTTL),
		core.NewTokenStore(gen, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		serverClock,
		logger,
	)

	sessions := o.Sessions
	if sessions == nil {
		if cfg.SessionSecret == "" {
			logger.Warn("session secret not configured", "impact", "all consent submissions will be denied")
			sessions = session.Deny{}
		} else {
			sessions = session.NewJWTResolver([]byte(cfg.SessionSecret), serverClock)
		}
	}

	handler, err := httpapi.New(httpapi.Config{
		Flow:              flow,
		Sessions:          sessions,
		Logger:            logger,
		FormMaxBytes:      cfg.FormMaxBytes,
		ResourceScope:     core.ParseScope(cfg.ResourceScope),
		EnableHTTPTracing: otlpEndpoint != "" && !cfg.DisableHTTPTracing,
	})
	if err != nil {
		shutdownTelemetry(telemetry)
		return nil, err
	}

	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	return &Server{
		cfg:       cfg,
		logger:    svcfields.WithSubsystem(logger, "server"),
		flow:      flow,
		handler:   handler,
		httpSrv:   httpSrv,
		clock:     serverClock,
		telemetry: telemetry,
		readyCh:   make(chan struct{}),
	}, nil
}

func shutdownTelemetry(t *telemetryBundle) {
	if t == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = t.Shutdown(shutdownCtx)
	cancel()
}

// Handler returns the underlying HTTP handler so grantd can be mounted
// inside an existing mux when embedding the server into another program.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Flow exposes the grant flow service, mainly for embedding and tests.
func (s *Server) Flow() *core.Service {
	return s.flow
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s): %w", s.cfg.Listen, err)
	}
	s.listener = ln
	s.signalReady()
	s.logger.Info("listening", "address", ln.Addr().String())
	s.startSweeper()
	defer s.stopSweeper()
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server and returns any fatal serve/shutdown
// error. The returned error will be nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if l := s.listener; l != nil {
		_ = l.Close()
		s.listener = nil
	}
	s.stopSweeper()
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
		s.telemetry = nil
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or context ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	if l := s.listener; l != nil {
		return l.Addr()
	}
	return nil
}

func (s *Server) startSweeper() {
	if s.cfg.SweeperInterval <= 0 {
		return
	}
	s.mu.Lock()
	if s.sweeperStop != nil {
		s.mu.Unlock()
		return
	}
	s.sweeperStop = make(chan struct{})
	s.sweeperDone.Add(1)
	stopCh := s.sweeperStop
	interval := s.cfg.SweeperInterval
	s.mu.Unlock()
	go func() {
		defer s.sweeperDone.Done()
		for {
			select {
			case <-stopCh:
				return
			case <-s.clock.After(interval):
				codes, tokens := s.flow.Sweep()
				if codes > 0 || tokens > 0 {
					s.logger.Debug("swept expired grants", "codes", codes, "tokens", tokens)
				}
			}
		}
	}()
}

func (s *Server) stopSweeper() {
	s.mu.Lock()
	stopCh := s.sweeperStop
	if stopCh != nil {
		close(stopCh)
		s.sweeperStop = nil
	}
	s.mu.Unlock()
	if stopCh != nil {
		s.sweeperDone.Wait()
	}
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying
// HTTP server. It is primarily useful for diagnostics; Shutdown already
// reports any fatal serve/shutdown errors to callers.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer starts a grantd server in a background goroutine and waits
// until it is ready to accept connections. It returns the running server
// alongside a stop function that gracefully shuts it down.
// Example:
//
//	cfg := grantd.Config{Listen: "127.0.0.1:0", SessionSecret: "dev-secret"}
//	srv, stop, err := grantd.StartServer(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stop(context.Background())
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	if err := srv.WaitUntilReady(waitCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}
