package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"tracktrip/internal/logfields"
	"tracktrip/internal/models"
	"tracktrip/internal/storage/sqlite"
)

// handleListTasks returns every task document, newest first.
func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.store.ListTasks(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": tasks})
}

// handleGetTask fetches a single task document.
func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.store.GetTask(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sqlite.ErrTaskNotFound) {
		s.respondError(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleUpsertTask merges the request body into the stored document. A body
// older than the stored revision gets 409 with the stored revision.
func (s *Server) handleUpsertTask(c *gin.Context) {
	id := c.Param("id")

	var task models.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		s.countUpsert("invalid")
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if task.ID == "" {
		task.ID = id
	}
	if task.ID != id {
		s.countUpsert("invalid")
		s.respondError(c, http.StatusBadRequest, fmt.Errorf("body id %q does not match path id %q", task.ID, id))
		return
	}

	merged, err := s.store.UpsertTask(c.Request.Context(), task)
	var conflict *models.RevisionConflict
	if errors.As(err, &conflict) {
		s.countUpsert("stale")
		s.logger.Debug("stale task write refused", logfields.TaskID(task.ID),
			logfields.Revision(task.Revision), slog.Int64("stored_revision", conflict.Stored))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "storedRevision": conflict.Stored})
		return
	}
	if err != nil {
		s.countUpsert("error")
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	s.countUpsert("ok")
	respondSuccess(c, http.StatusOK, gin.H{"task": merged})
}
