package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/digital-twin-engine/internal/domain"
	"github.com/digital-twin-engine/internal/twin"
)

// Server is the operational HTTP surface: event ingestion, twin queries and
// refreshes, breaker inspection and alert management. The patient-facing
// platform API lives elsewhere; this surface is for operators and internal
// services.
type Server struct {
	cfg     domain.ServerConfig
	service *twin.Service
	log     *logrus.Logger
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates the HTTP server.
func NewServer(cfg domain.ServerConfig, service *twin.Service, logger *logrus.Logger, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())

	s := &Server{
		cfg:     cfg,
		service: service,
		log:     logger,
		router:  router,
	}
	s.setupRoutes()
	return s
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.log.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/twin/:patient_id/events", s.handleIngest)
		v1.GET("/twin/:patient_id", s.handleQuery)
		v1.POST("/twin/:patient_id/refresh", s.handleRefresh)
		v1.GET("/twin/:patient_id/replay", s.handleReplay)
		v1.GET("/twin/:patient_id/breakers", s.handleBreakers)
		v1.GET("/twin/:patient_id/alerts", s.handleAlerts)
		v1.POST("/alerts/:alert_id/ack", s.handleAcknowledge)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

type ingestRequest struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type" binding:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
	OccurredAt time.Time       `json:"occurred_at" binding:"required"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := domain.UnmarshalPayload(domain.EventType(req.EventType), req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EventID == "" {
		req.EventID = uuid.New().String()
	}

	stored, err := s.service.Ingest(c.Request.Context(), c.Param("patient_id"), req.EventID, payload, req.OccurredAt)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleQuery(c *gin.Context) {
	state, err := s.service.Query(c.Request.Context(), c.Param("patient_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleRefresh(c *gin.Context) {
	state, raised, err := s.service.Refresh(c.Request.Context(), c.Param("patient_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":  state,
		"alerts": raised,
	})
}

func (s *Server) handleReplay(c *gin.Context) {
	state, err := s.service.Replay(c.Request.Context(), c.Param("patient_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"patient_id": c.Param("patient_id"),
		"breakers":   s.service.BreakerStates(c.Param("patient_id")),
	})
}

func (s *Server) handleAlerts(c *gin.Context) {
	alerts := s.service.ActiveAlerts(c.Param("patient_id"))
	if alerts == nil {
		alerts = []domain.AlertRecord{}
	}
	c.JSON(http.StatusOK, alerts)
}

func (s *Server) handleAcknowledge(c *gin.Context) {
	ok, err := s.service.AcknowledgeAlert(c.Request.Context(), c.Param("alert_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var validation *domain.ValidationError
	var unavailable *domain.StoreUnavailableError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, twin.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &unavailable):
		s.log.WithError(err).Error("Store unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		s.log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// requestIDMiddleware tags each request for log correlation.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
