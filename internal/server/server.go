// Package server exposes the HTTP surface: batch submission, single order
// lookup, health, and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/finvex/ordergate/internal/apierr"
	"github.com/finvex/ordergate/internal/config"
	"github.com/finvex/ordergate/internal/health"
	"github.com/finvex/ordergate/internal/orders/repository"
	"github.com/finvex/ordergate/internal/overload"
	"github.com/finvex/ordergate/internal/pipeline"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server hosts the HTTP endpoints.
type Server struct {
	cfg       *config.ServerConfig
	submitter *pipeline.Submitter
	repo      *repository.OrderRepository
	checker   *health.Checker
	probe     *overload.Probe
	logger    *zap.Logger
	http      *http.Server
}

// New builds the server and its routes.
func New(
	cfg *config.ServerConfig,
	submitter *pipeline.Submitter,
	repo *repository.OrderRepository,
	checker *health.Checker,
	probe *overload.Probe,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		submitter: submitter,
		repo:      repo,
		checker:   checker,
		probe:     probe,
		logger:    logger,
	}

	gin.SetMode(gin.ReleaseMode)
	registerValidations()
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(s.trackInFlight())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders/batch", s.handleBatchSubmit)
		v1.GET("/orders/:id", s.handleGetOrder)
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// trackInFlight feeds the active-request counter the overload probe samples.
func (s *Server) trackInFlight() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.probe.RequestStarted()
		defer s.probe.RequestFinished()
		c.Next()
	}
}

// registerValidations adds the order-id check to gin's binding validator.
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("orderid", func(fl validator.FieldLevel) bool {
			_, err := uuid.Parse(fl.Field().String())
			return err == nil
		})
	}
}

type batchSubmitRequest struct {
	OrderIDs []string `json:"order_ids" binding:"required,min=1,unique,dive,orderid"`
}

func (s *Server) handleBatchSubmit(c *gin.Context) {
	var req batchSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, apierr.Validation("invalid batch request: "+err.Error()))
		return
	}

	ids := make([]uuid.UUID, len(req.OrderIDs))
	for i, raw := range req.OrderIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.renderError(c, apierr.Validation("invalid order id at index "+strconv.Itoa(i)))
			return
		}
		ids[i] = id
	}

	result, err := s.submitter.SubmitBatch(c.Request.Context(), ids)
	if err != nil {
		s.renderError(c, err)
		return
	}

	status := http.StatusOK
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.renderError(c, apierr.Validation("invalid order id"))
		return
	}

	order, err := s.repo.GetOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleHealth(c *gin.Context) {
	snapshot := s.checker.Snapshot()
	status := http.StatusOK
	if !s.checker.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, snapshot)
}

// renderError writes the RFC 7807 document with retry guidance. Diagnostic
// detail stays in the logs.
func (s *Server) renderError(c *gin.Context, err error) {
	classified := apierr.Classify(err)

	if classified.Kind == apierr.KindInternal {
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}

	if classified.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(classified.RetryAfter/time.Second)))
	}
	c.Header("Content-Type", "application/problem+json")
	c.JSON(classified.HTTPStatus(), classified.Problem(c.Request.URL.Path))
}
