// Package gateserver exposes the governance gate over HTTP, serving the
// contract gateclient consumes.
package gateserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sealgate/sealgate/internal/gate"
)

// ValidateRequest is the body of POST /v1/gate/validate.
type ValidateRequest struct {
	Action    string       `json:"action" binding:"required"`
	Metrics   gate.Metrics `json:"metrics"`
	Timestamp string       `json:"timestamp"`
}

// ValidateResponse mirrors gateclient.Response.
type ValidateResponse struct {
	Decision    string           `json:"decision"`
	Confidence  float64          `json:"confidence"`
	Explanation gate.Explanation `json:"explanation"`
}

// Server serves gate decisions.
type Server struct {
	gate   *gate.Gate
	logger *slog.Logger
}

// New creates a Server. logger may be nil.
func New(g *gate.Gate, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{gate: g, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.POST("/v1/gate/validate", s.handleValidate)
	return router
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("gate server listening", "addr", addr)
	return s.Router().Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleValidate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	explanation := s.gate.Explain(req.Metrics)
	s.logger.Info("gate decision",
		"action", req.Action,
		"decision", explanation.Decision,
		"confidence", explanation.Confidence)

	c.JSON(http.StatusOK, ValidateResponse{
		Decision:    string(explanation.Decision),
		Confidence:  explanation.Confidence,
		Explanation: explanation,
	})
}
