package fleet

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/logan-robbins/quadracode-sub000/internal/registry"
	"github.com/logan-robbins/quadracode-sub000/internal/runtimeloop"
)

// HealthProvider supplies the runtime loop pool health backing the
// supplemented GET /fleet/health endpoint (SPEC_FULL.md §4, modeled on
// the teacher's pkg/queue/pool.go Health()).
type HealthProvider interface {
	Health() runtimeloop.PoolHealth
}

// Server exposes the Controller over HTTP, grounded on the same
// gin.Context handler shape as internal/registry.Server.
type Server struct {
	controller *Controller
	health     HealthProvider
	logger     *slog.Logger
}

// NewServer wires a Controller (and optional pool HealthProvider) behind
// a gin router.
func NewServer(controller *Controller, health HealthProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{controller: controller, health: health, logger: logger}
}

// Register mounts fleet routes under the given group (e.g. engine.Group("/fleet")).
func (s *Server) Register(group gin.IRouter) {
	group.POST("/agents", s.handleSpawn)
	group.DELETE("/agents/:id", s.handleDelete)
	group.GET("/agents", s.handleList)
	group.GET("/agents/:id", s.handleStatus)
	group.POST("/agents/:id/hotpath", s.handleMarkHotpath)
	group.DELETE("/agents/:id/hotpath", s.handleClearHotpath)
	group.GET("/hotpath", s.handleListHotpath)
	group.GET("/health", s.handleHealth)
}

type spawnBody struct {
	AgentID     string            `json:"agent_id" binding:"required"`
	DisplayName string            `json:"display_name"`
	Template    string            `json:"template"`
	Image       string            `json:"image" binding:"required"`
	Env         map[string]string `json:"env"`
	Labels      map[string]string `json:"labels"`
	Hotpath     bool              `json:"hotpath"`
}

func (s *Server) handleSpawn(c *gin.Context) {
	var body spawnBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.controller.SpawnAgent(c.Request.Context(), SpawnAgentRequest{
		AgentID: body.AgentID, DisplayName: body.DisplayName, Template: body.Template,
		Image: body.Image, Env: body.Env, Labels: body.Labels, Hotpath: body.Hotpath,
	})
	if err != nil {
		s.logger.Error("fleet spawn failed", "agent_id", body.AgentID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

func (s *Server) handleDelete(c *gin.Context) {
	force := c.Query("force") == "true"
	result, err := s.controller.DeleteAgent(c.Request.Context(), c.Param("id"), force)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !result.Success {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleList(c *gin.Context) {
	recs, err := s.controller.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": recs})
}

func (s *Server) handleStatus(c *gin.Context) {
	result, err := s.controller.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMarkHotpath(c *gin.Context) {
	if err := s.controller.MarkHotpath(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleClearHotpath(c *gin.Context) {
	if err := s.controller.ClearHotpath(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListHotpath(c *gin.Context) {
	recs, err := s.controller.ListHotpath(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": recs})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"is_healthy": true, "worker_stats": []any{}})
		return
	}
	c.JSON(http.StatusOK, s.health.Health())
}
