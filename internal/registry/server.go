package registry

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/logan-robbins/quadracode-sub000/internal/models"
)

// Server exposes the registry Store over HTTP, grounded on the teacher's
// pkg/api/handlers.go gin.Context handler shape.
type Server struct {
	store  Store
	logger *slog.Logger
}

// NewServer wires a Store behind a gin router.
func NewServer(store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, logger: logger}
}

// Register mounts registry routes under the given group (e.g. engine.Group("/agents")).
func (s *Server) Register(group gin.IRouter) {
	group.POST("/register", s.handleRegister)
	group.POST("/:id/heartbeat", s.handleHeartbeat)
	group.GET("", s.handleList)
	group.GET("/:id", s.handleGet)
	group.POST("/:id/hotpath", s.handleSetHotpath)
	group.DELETE("/:id", s.handleRemove)
	group.GET("/stats", s.handleStats)
}

type registerBody struct {
	AgentID string `json:"agent_id" binding:"required"`
	Host    string `json:"host" binding:"required"`
	Port    int    `json:"port" binding:"required"`
	Hotpath *bool  `json:"hotpath"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.store.Register(c.Request.Context(), RegisterRequest{
		AgentID: body.AgentID, Host: body.Host, Port: body.Port, Hotpath: body.Hotpath,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type heartbeatBody struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	var body heartbeatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := models.AgentStatus(body.Status)
	if !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + body.Status})
		return
	}
	err := s.store.Heartbeat(c.Request.Context(), HeartbeatRequest{
		AgentID: c.Param("id"), Status: status, ReportedAt: time.Now().UTC(),
	})
	if err != nil {
		s.writeStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleList(c *gin.Context) {
	healthyOnly := c.Query("healthy") == "true"
	hotpathOnly := c.Query("hotpath") == "true"
	recs, err := s.store.List(c.Request.Context(), healthyOnly, hotpathOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": recs})
}

func (s *Server) handleGet(c *gin.Context) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type hotpathBody struct {
	Hotpath bool `json:"hotpath"`
}

func (s *Server) handleSetHotpath(c *gin.Context) {
	var body hotpathBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.SetHotpath(c.Request.Context(), c.Param("id"), body.Hotpath); err != nil {
		s.writeStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRemove(c *gin.Context) {
	force := c.Query("force") == "true"
	err := s.store.Remove(c.Request.Context(), c.Param("id"), force)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	case errors.Is(err, ErrHotpathAgent):
		s.logger.Warn("refused to remove hotpath agent without force", "agent_id", c.Param("id"))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.writeStoreErr(c, err)
	}
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) writeStoreErr(c *gin.Context, err error) {
	if errors.Is(err, ErrAgentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error("registry store error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
