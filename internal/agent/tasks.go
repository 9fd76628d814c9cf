package agent

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tracktrip/internal/lifecycle"
	"tracktrip/internal/models"
	"tracktrip/internal/remote"
)

// ErrOffline is returned when an operation needs the remote service.
var ErrOffline = errors.New("remote service unreachable")

type stepRequest struct {
	Status string `json:"status"`
}

type assignRequest struct {
	UserID string `json:"userId"`
}

// handleListTasks returns the refreshed view; offline it serves the local copy.
func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.sync.Refresh(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "online": s.sync.Online()})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// handleCreateTask persists a new task locally and lets the engine push it.
func (s *Server) handleCreateTask(c *gin.Context) {
	var draft lifecycle.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	task, err := s.tasks.Create(c.Request.Context(), draft, actor(c))
	if err != nil {
		s.respondError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task})
}

// handleConfirmStep records the next lifecycle state for a task.
func (s *Server) handleConfirmStep(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	next, err := models.ParseStatus(req.Status)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, fmt.Errorf("%w: %q", lifecycle.ErrUnknownStatus, req.Status))
		return
	}

	task, err := s.tasks.ConfirmStep(c.Request.Context(), c.Param("id"), next, actor(c))
	if err != nil {
		s.respondError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// handleAssign resolves the user remotely, then assigns them locally.
func (s *Server) handleAssign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		s.respondError(c, http.StatusBadRequest, fmt.Errorf("%w: userId must not be empty", lifecycle.ErrInvalidTask))
		return
	}
	if !s.sync.Online() {
		s.respondError(c, http.StatusServiceUnavailable, ErrOffline)
		return
	}

	user, err := s.directory.GetUser(c.Request.Context(), req.UserID)
	if errors.Is(err, remote.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, fmt.Errorf("look up user: %w", err))
		return
	}
	if err != nil {
		s.respondError(c, http.StatusBadGateway, fmt.Errorf("look up user: %w", err))
		return
	}
	task, err := s.tasks.Assign(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		s.respondError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// handleDeleteTask removes the task from this device only.
func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.tasks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}
