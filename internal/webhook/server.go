package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mortgage-settlement-go/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// TokenHeader carries the shared secret on settlement notifications.
const TokenHeader = "X-Webhook-Token"

// Reconciler applies a provider notification to the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, reference string, status models.ChainStatus) (models.PaymentStatus, error)
}

// Loans is the read side exposed next to the notification endpoint.
type Loans interface {
	GetLoanSummary(ctx context.Context, loanId string) (*models.LoanSummary, error)
	HealthCheck(ctx context.Context) (*models.HealthReport, error)
}

type Server struct {
	echo       *echo.Echo
	addr       string
	token      string
	reconciler Reconciler
	loans      Loans
}

func NewServer(cfg models.WebhookConfig, reconciler Reconciler, loans Loans) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		addr:       cfg.Addr,
		token:      cfg.Token,
		reconciler: reconciler,
		loans:      loans,
	}

	e.Use(middleware.Recover(), requestLogger())

	e.GET("/healthz", s.health)
	v1 := e.Group("/v1")
	v1.POST("/settlements/notifications", s.notify, s.requireToken)
	v1.GET("/loans/:id", s.getLoan)
	return s
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	if s.token == "" {
		zap.L().Warn("WEBHOOK_TOKEN not set, settlement notifications are unauthenticated")
	}
	go func() {
		zap.L().Info("Settlement webhook listening", zap.String("addr", s.addr))
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Settlement webhook stopped unexpectedly", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down webhook server: %w", err)
	}
	return nil
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.token == "" {
			return next(c)
		}
		got := c.Request().Header.Get(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid webhook token"})
		}
		return next(c)
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("Webhook request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	})
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	report, err := s.loans.HealthCheck(ctx)
	if report == nil {
		report = &models.HealthReport{Status: models.HealthOK}
	}
	if err != nil {
		report.Status = models.HealthUnhealthy
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) getLoan(c echo.Context) error {
	summary, err := s.loans.GetLoanSummary(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(statusFor(err), errorBody(err))
	}
	return c.JSON(http.StatusOK, summary)
}
