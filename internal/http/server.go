// Package http provides the HTTP surface of paybridge: the widget page, the
// instance API and the page WebSocket.
package http

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xiaot623/paybridge/internal/config"
	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/handoff"
	"github.com/xiaot623/paybridge/internal/hub"
	"github.com/xiaot623/paybridge/internal/instance"
	"github.com/xiaot623/paybridge/internal/metrics"
	"github.com/xiaot623/paybridge/internal/params"
	"github.com/xiaot623/paybridge/internal/ws"
)

//go:embed static/interaction.html
var interactionPage []byte

// Instances is the instance registry used by the API.
type Instances interface {
	Create(ctx context.Context, launch string) (*instance.Instance, error)
	Get(id string) (*instance.Instance, error)
	Count() int
}

// Journal is the read side of the lifecycle journal.
type Journal interface {
	GetInstance(ctx context.Context, instanceID string) (*domain.InstanceRecord, error)
	GetEvents(ctx context.Context, instanceID string, afterTs int64, types []string, limit int) ([]domain.Event, error)
}

// Server is the HTTP server.
type Server struct {
	echo      *echo.Echo
	hub       *hub.Hub
	instances Instances
	journal   Journal
	log       *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.Config, h *hub.Hub, instances Instances, journal Journal, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		hub:       h,
		instances: instances,
		journal:   journal,
		log:       log.Named("http"),
	}

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURIPath: true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	wsServer := ws.NewServer(cfg, h, instances, log)

	// Register routes
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/interaction", s.handleInteraction)
	e.GET("/ws", wsServer.HandleWebSocket)

	api := e.Group("/v1")
	if cfg.RateLimitRPS > 0 {
		api.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimitRPS))))
	}
	api.POST("/instances", s.handleCreateInstance)
	api.GET("/instances/:id", s.handleGetInstance)
	api.GET("/instances/:id/events", s.handleGetEvents)
	api.POST("/instances/:id/lifecycle/:signal", s.handleSignal)
	api.POST("/instances/:id/pay", s.handlePay)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.GetConnectionCount(),
		"instances":   s.instances.Count(),
	})
}

// handleInteraction serves the widget page, both on first load and on the
// identity provider's redirect back.
func (s *Server) handleInteraction(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.HTMLBlob(http.StatusOK, interactionPage)
}

// CreateInstanceRequest is the body of POST /v1/instances. Launch wins over
// Query and Fragment; otherwise the query is used when present.
type CreateInstanceRequest struct {
	Launch   string `json:"launch"`
	Query    string `json:"query"`
	Fragment string `json:"fragment"`
}

func (s *Server) handleCreateInstance(c echo.Context) error {
	var req CreateInstanceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	launch := req.Launch
	if launch == "" {
		launch = params.Source(req.Query, req.Fragment)
	}

	inst, err := s.instances.Create(c.Request().Context(), launch)
	if err != nil {
		var parseErr *domain.ParseError
		if errors.As(err, &parseErr) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": parseErr.Error()})
		}
		s.log.Error("failed to create instance", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create instance"})
	}

	return c.JSON(http.StatusCreated, inst.Status())
}

func (s *Server) handleGetInstance(c echo.Context) error {
	id := c.Param("id")
	if inst, err := s.instances.Get(id); err == nil {
		return c.JSON(http.StatusOK, inst.Status())
	}

	rec, err := s.journal.GetInstance(c.Request().Context(), id)
	if errors.Is(err, domain.ErrInstanceNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "instance not found"})
	}
	if err != nil {
		s.log.Error("failed to read instance", zap.String("instance_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read instance"})
	}
	return c.JSON(http.StatusOK, instance.Status{
		InstanceID:     rec.InstanceID,
		State:          rec.State,
		Environment:    rec.Environment,
		ConversationID: rec.ConversationID,
		CreatedAt:      rec.CreatedAt,
	})
}

func (s *Server) handleGetEvents(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if _, err := s.journal.GetInstance(ctx, id); err != nil {
		if errors.Is(err, domain.ErrInstanceNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "instance not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read instance"})
	}

	afterTs, _ := strconv.ParseInt(c.QueryParam("after_ts"), 10, 64)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	var types []string
	if t := c.QueryParam("type"); t != "" {
		types = append(types, t)
	}

	events, err := s.journal.GetEvents(ctx, id, afterTs, types, limit)
	if err != nil {
		s.log.Error("failed to read events", zap.String("instance_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read events"})
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleSignal(c echo.Context) error {
	sig, ok := domain.ParseSignal(c.Param("signal"))
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown signal"})
	}

	inst, err := s.instances.Get(c.Param("id"))
	if err != nil {
		// A repeated stop after teardown is harmless.
		if sig == domain.SignalStop {
			return c.NoContent(http.StatusAccepted)
		}
		return c.JSON(http.StatusNotFound, map[string]string{"error": "instance not found"})
	}

	inst.Signal(c.Request().Context(), sig)
	return c.NoContent(http.StatusAccepted)
}

// handlePay returns the self-submitting handoff form. When no handoff is
// possible it answers 204 so the page stays where it is.
func (s *Server) handlePay(c echo.Context) error {
	inst, err := s.instances.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "instance not found"})
	}

	form, err := inst.Pay(c.Request().Context())
	if errors.Is(err, handoff.ErrInert) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		s.log.Error("payment handoff failed", zap.String("instance_id", inst.ID()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "payment handoff failed"})
	}

	page, err := form.Render()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "payment handoff failed"})
	}

	h := c.Response().Header()
	h.Set("Cache-Control", "no-store")
	h.Set("Referrer-Policy", "no-referrer")
	return c.HTMLBlob(http.StatusOK, page)
}
