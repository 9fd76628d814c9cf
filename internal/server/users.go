package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tracktrip/internal/models"
	"tracktrip/internal/storage/sqlite"
)

type userRequest struct {
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	PushToken string      `json:"pushToken"`
}

// handleListUsers returns all known users.
func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.store.ListUsers(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	respondSuccess(c, http.StatusOK, gin.H{"users": users})
}

// handleGetUser looks up a user, including the push token used for notifications.
func (s *Server) handleGetUser(c *gin.Context) {
	user, err := s.store.GetUser(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sqlite.ErrUserNotFound) {
		s.respondError(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"user": user})
}

// handleUpsertUser creates or replaces the user at the path id.
func (s *Server) handleUpsertUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.respondError(c, http.StatusBadRequest, fmt.Errorf("user name must not be empty"))
		return
	}

	user, err := s.store.UpsertUser(c.Request.Context(), models.User{
		ID:        c.Param("id"),
		Name:      req.Name,
		Role:      req.Role,
		PushToken: req.PushToken,
	})
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"user": user})
}
