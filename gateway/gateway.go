package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ragflow"
	"github.com/xraph/ragflow/engine"
	"github.com/xraph/ragflow/query"
	"github.com/xraph/ragflow/workflow"
)

const serviceName = "ragflow-gateway"

// Gateway turns questions into workflow runs.
type Gateway struct {
	eng      *engine.Engine
	workflow string
	logger   *slog.Logger
	tp       trace.TracerProvider

	e *echo.Echo
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithWorkflow sets the workflow each question starts. The default is
// Config.Workflow.
func WithWorkflow(name string) Option {
	return func(g *Gateway) { g.workflow = name }
}

// WithLogger sets the gateway logger. The default is the orchestrator's.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithTracerProvider sets the provider otelecho creates server spans
// with. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) { g.tp = tp }
}

// New creates a gateway over eng and registers its routes.
func New(eng *engine.Engine, opts ...Option) *Gateway {
	g := &Gateway{
		eng:      eng,
		workflow: eng.Config().Workflow,
		logger:   eng.Orchestrator().Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.workflow == "" {
		g.workflow = query.WorkflowPipeline
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = g.handleError

	var otelOpts []otelecho.Option
	if g.tp != nil {
		otelOpts = append(otelOpts, otelecho.WithTracerProvider(g.tp))
	}
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(serviceName, otelOpts...))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			g.logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "http request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	g.e = e
	g.registerRoutes()
	return g
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler { return g.e }

// Echo returns the underlying router so callers can mount extra routes.
func (g *Gateway) Echo() *echo.Echo { return g.e }

// Submit runs the gateway workflow for question and waits for its
// terminal state. A failed or cancelled run yields ErrRunFailed carrying
// the run's error; every other fault, including ctx ending first, yields
// ErrGatewayFault. No partial result is ever returned.
func (g *Gateway) Submit(ctx context.Context, question string) (*query.AnswerResult, error) {
	run, err := g.eng.ExecuteWorkflow(ctx, g.workflow, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ragflow.ErrGatewayFault, err)
	}

	switch run.State {
	case workflow.RunStateCompleted:
		var res query.AnswerResult
		if err := g.eng.Converter().FromPayload(run.Output, &res); err != nil {
			return nil, fmt.Errorf("%w: decode result of run %s: %w", ragflow.ErrGatewayFault, run.ID, err)
		}
		return &res, nil
	case workflow.RunStateFailed, workflow.RunStateCancelled:
		return nil, fmt.Errorf("%w: %s", ragflow.ErrRunFailed, run.Error)
	default:
		return nil, fmt.Errorf("%w: run %s returned in state %s", ragflow.ErrGatewayFault, run.ID, run.State)
	}
}

func (g *Gateway) registerRoutes() {
	g.e.POST("/query", g.postQuery)
	g.e.GET("/healthz", g.healthz)

	v1 := g.e.Group("/v1")
	v1.GET("/runs", g.listRuns)
	v1.GET("/runs/:runId", g.getRun)
	v1.GET("/runs/:runId/history", g.runHistory)
	v1.GET("/runs/:runId/replay", g.replayRun)
	v1.POST("/runs/:runId/cancel", g.cancelRun)
}

// errorResponse is the body of every error response.
type errorResponse struct {
	Detail string `json:"detail"`
}

// handleError renders errors as {"detail": message}. Errors that are not
// *echo.HTTPError are internal.
func (g *Gateway) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	detail := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		detail = fmt.Sprint(he.Message)
		if he.Internal != nil {
			err = he.Internal
		}
	}
	if code >= http.StatusInternalServerError {
		g.logger.LogAttrs(c.Request().Context(), slog.LevelError, "request failed",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if writeErr := c.JSON(code, errorResponse{Detail: detail}); writeErr != nil {
		g.logger.Warn("write error response", slog.String("error", writeErr.Error()))
	}
}
