// Package httpapi exposes the authorization server over HTTP: the
// authorization and consent endpoints, the token and refresh endpoints,
// a demonstration protected resource, and health probes.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/rs/xid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/grantd/internal/core"
	"pkt.systems/grantd/internal/correlation"
	"pkt.systems/grantd/internal/session"
	"pkt.systems/grantd/internal/svcfields"
	"pkt.systems/pslog"
)

const (
	meterName  = "pkt.systems/grantd/internal/httpapi"
	tracerName = "pkt.systems/grantd/internal/httpapi"
)

// Config wires the HTTP handler's collaborators.
type Config struct {
	// Flow is the grant flow orchestrator. Required.
	Flow *core.Service
	// Sessions resolves the resource owner behind consent submissions.
	// Required; use session.Deny to refuse all consent.
	Sessions session.Resolver
	// Logger receives request-scoped log entries.
	Logger pslog.Logger
	// FormMaxBytes caps the size of accepted form bodies.
	FormMaxBytes int64
	// ResourceScope is the scope the protected resource demands.
	ResourceScope core.Scope
	// EnableHTTPTracing wraps the handler in OpenTelemetry middleware.
	EnableHTTPTracing bool
}

// Handler is the root http.Handler of the authorization server.
type Handler struct {
	cfg     Config
	logger  pslog.Logger
	mux     *http.ServeMux
	handler http.Handler
	tracer  trace.Tracer

	issuedTokens   metric.Int64Counter
	redeemedCodes  metric.Int64Counter
	rotatedTokens  metric.Int64Counter
	resourceChecks metric.Int64Counter
}

// New constructs the handler and registers its routes.
func New(cfg Config) (*Handler, error) {
	if cfg.Flow == nil {
		return nil, fmt.Errorf("httpapi: missing flow service")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("httpapi: missing session resolver")
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.FormMaxBytes <= 0 {
		cfg.FormMaxBytes = 64 << 10
	}
	h := &Handler{
		cfg:    cfg,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
		tracer: otel.Tracer(tracerName),
	}
	if err := h.initMetrics(); err != nil {
		return nil, err
	}
	h.routes()
	h.handler = h.mux
	if cfg.EnableHTTPTracing {
		h.handler = otelhttp.NewHandler(h.mux, "grantd.http")
	}
	return h, nil
}

func (h *Handler) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error
	if h.issuedTokens, err = meter.Int64Counter("grantd.tokens.issued",
		metric.WithDescription("Access/refresh pairs issued via code exchange.")); err != nil {
		return fmt.Errorf("httpapi: register metric: %w", err)
	}
	if h.redeemedCodes, err = meter.Int64Counter("grantd.codes.redeemed",
		metric.WithDescription("Authorization code redemption attempts.")); err != nil {
		return fmt.Errorf("httpapi: register metric: %w", err)
	}
	if h.rotatedTokens, err = meter.Int64Counter("grantd.tokens.rotated",
		metric.WithDescription("Refresh rotations performed.")); err != nil {
		return fmt.Errorf("httpapi: register metric: %w", err)
	}
	if h.resourceChecks, err = meter.Int64Counter("grantd.resource.checks",
		metric.WithDescription("Protected resource authorization decisions.")); err != nil {
		return fmt.Errorf("httpapi: register metric: %w", err)
	}
	return nil
}

func (h *Handler) routes() {
	h.mux.Handle("GET /oauth/authorize", h.wrap("authorize.page", h.handleAuthorizePage))
	h.mux.Handle("POST /oauth/authorize", h.wrap("authorize.decide", h.handleAuthorizeDecision))
	h.mux.Handle("POST /oauth/token", h.wrap("token.exchange", h.handleToken))
	h.mux.Handle("POST /oauth/refresh", h.wrap("token.refresh", h.handleRefresh))
	h.mux.Handle("GET /oauth/resource", h.wrap("resource", h.handleResource))
	h.mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealth))
	h.mux.Handle("GET /readyz", h.wrap("readyz", h.handleHealth))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap supplies every endpoint with a request ID, correlation state, a
// request-scoped logger on the context, an optional span, and uniform
// error rendering.
func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := svcfields.Subsystem("http", operation)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reqID := xid.New().String()
		if h.cfg.EnableHTTPTracing {
			var span trace.Span
			ctx, span = h.tracer.Start(ctx, "grantd.op."+operation)
			defer span.End()
		}
		ctx = correlation.Ensure(ctx)
		if incoming := r.Header.Get("X-Correlation-Id"); incoming != "" {
			ctx = correlation.Set(ctx, incoming)
		}
		if !correlation.Has(ctx) {
			ctx = correlation.Set(ctx, correlation.Generate())
		}
		w.Header().Set("X-Correlation-Id", correlation.ID(ctx))

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"correlation_id", correlation.ID(ctx),
		)
		ctx = pslog.ContextWithLogger(ctx, logger)
		r = r.WithContext(ctx)

		logger.Trace("http.request.start")
		if err := fn(w, r); err != nil {
			h.handleError(w, r, logger, err)
		}
	})
}
