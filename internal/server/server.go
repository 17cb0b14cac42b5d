// Package server is the HTTP boundary over the evaluation pipeline. It
// carries no policy logic: handlers validate, normalize, and delegate, so
// replay and live traffic stay bit-identical.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turnguard/turnguard/internal/identity"
	"github.com/turnguard/turnguard/internal/model"
	"github.com/turnguard/turnguard/internal/pipeline"
	"github.com/turnguard/turnguard/internal/policy"
)

// Config holds HTTP server configuration.
type Config struct {
	Port       int
	PolicyPath string
}

// Server serves turn submission, session queries, and liveness.
type Server struct {
	pipeline *pipeline.Pipeline
	cfg      Config
	http     *http.Server
}

// New creates a server over an already-constructed pipeline.
func New(cfg Config, p *pipeline.Pipeline) *Server {
	s := &Server{pipeline: p, cfg: cfg}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)

	v1 := router.Group("/v1")
	{
		v1.POST("/turns", s.handleSubmitTurn)
		v1.GET("/sessions", s.handleListSessions)
		v1.GET("/sessions/:id", s.handleGetSession)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve starts the HTTP server. Blocks until shut down.
func (s *Server) Serve() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ReloadPolicy re-reads the policy file and swaps it into the pipeline.
// Called by the hot-reloader on file change.
func (s *Server) ReloadPolicy() error {
	cfg, hash, err := policy.LoadConfigWithHash(s.cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to reload policy config: %w", err)
	}
	s.pipeline.SetPolicy(cfg, hash)
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

type submitTurnRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	TurnID    int64  `json:"turn_id" binding:"required"`
	Role      string `json:"role" binding:"required"`
	Content   string `json:"content"`
	Timestamp string `json:"ts"`
}

type submitTurnResponse struct {
	SessionID  string `json:"session_id"`
	TurnID     int64  `json:"turn_id"`
	Verdict    string `json:"verdict"`
	ReasonCode string `json:"reason_code"`
}

func (s *Server) handleSubmitTurn(c *gin.Context) {
	var req submitTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "malformed_turn",
			"detail": err.Error(),
		})
		return
	}

	turn := model.Turn{
		SessionID: identity.NormalizeSessionID(req.SessionID),
		TurnID:    req.TurnID,
		Role:      model.Role(req.Role),
		Content:   req.Content,
	}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "malformed_turn",
				"detail": fmt.Sprintf("invalid ts: %v", err),
			})
			return
		}
		turn.Timestamp = ts
	}

	dec, err := s.pipeline.Evaluate(c.Request.Context(), turn)
	if err != nil {
		status, code := errorStatus(err)
		c.JSON(status, gin.H{"error": code, "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, submitTurnResponse{
		SessionID:  turn.SessionID,
		TurnID:     turn.TurnID,
		Verdict:    string(dec.Verdict),
		ReasonCode: dec.ReasonCode,
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sessionID := identity.NormalizeSessionID(c.Param("id"))

	st, err := s.pipeline.Session(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "detail": err.Error()})
		return
	}

	// Unknown ids return the fresh default state rather than 404: sessions
	// are created lazily, so "empty" is a valid answer.
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.pipeline.Sessions(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// handleHealth reports liveness with no dependency on store contents.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"policy_hash": s.pipeline.PolicyHash(),
	})
}

// errorStatus maps the error taxonomy to HTTP status and stable error codes
// so callers can distinguish ordering violations from malformed input.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrOutOfOrderTurn):
		return http.StatusConflict, "out_of_order_turn"
	case errors.Is(err, model.ErrMalformedTurn):
		return http.StatusBadRequest, "malformed_turn"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
