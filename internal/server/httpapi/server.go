// Package httpapi is the HTTP surface of the KYC server: the collaborator
// operations under /api/v1/kyc, the provider callback, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/logging"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// VerificationService is what the HTTP layer needs from the lifecycle.
type VerificationService interface {
	Initiate(ctx context.Context, userID string, requested []models.DocumentType) (*models.Session, error)
	Session(ctx context.Context, id string) (*models.Session, error)
	SessionByState(ctx context.Context, state string) (*models.Session, error)
	HandleCallback(ctx context.Context, sessionID, code, errCode string) (*models.Session, error)
	PollStatus(ctx context.Context, sessionID string) (*models.Session, error)
	MarkRedirected(ctx context.Context, sessionID string) (*models.Session, error)
	FetchDocuments(ctx context.Context, sessionID string) (*models.Session, error)
	Cancel(ctx context.Context, sessionID string) (*models.Session, error)
	KYCStatus(ctx context.Context, userID string) (*models.KYCStatus, error)
	Documents(ctx context.Context, sessionID string) ([]*models.Document, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type requestValidator struct {
	v *validator.Validate
}

func (r *requestValidator) Validate(i interface{}) error {
	return r.v.Struct(i)
}

type HTTPServer struct {
	address   string
	echo      *echo.Echo
	svc       VerificationService
	db        Pinger
	logger    logging.Logger
	jwtSecret []byte
}

// NewHTTPServer wires routes and middleware. gatherer backs GET /metrics and
// may be nil to leave the endpoint out.
func NewHTTPServer(a string, l logging.Logger, svc VerificationService, db Pinger, secretKey string, gatherer prometheus.Gatherer) *HTTPServer {
	s := &HTTPServer{
		address:   a,
		echo:      echo.New(),
		svc:       svc,
		db:        db,
		logger:    l.With("module", "http_server"),
		jwtSecret: []byte(secretKey),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug(c.Request().Context(), "request",
				"method", v.Method, "path", v.URIPath, "status", v.Status, "latency", v.Latency.String())
			return nil
		},
	}))

	e.GET("/healthz", s.health)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/v1/kyc")
	api.GET("/callback", s.callback)

	authed := api.Group("", s.bearerAuth)
	authed.POST("/sessions", s.initiate)
	authed.GET("/status", s.kycStatus)
	authed.GET("/sessions/:id", s.pollStatus)
	authed.POST("/sessions/:id/redirected", s.markRedirected)
	authed.POST("/sessions/:id/fetch", s.fetchDocuments)
	authed.POST("/sessions/:id/cancel", s.cancel)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "HTTP server shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
