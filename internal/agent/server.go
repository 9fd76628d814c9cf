// Package agent serves the local HTTP API a device UI uses to read and
// mutate tasks while the sync engine works in the background.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"

	"tracktrip/internal/lifecycle"
	"tracktrip/internal/logfields"
	"tracktrip/internal/metrics"
	"tracktrip/internal/models"
	"tracktrip/internal/syncer"
)

// UserHeader carries the acting user id.
const UserHeader = "X-User-ID"

const actorKey = "uid"

// Tasks applies lifecycle mutations. *lifecycle.Machine implements it.
type Tasks interface {
	Create(ctx context.Context, d lifecycle.Draft, actingUserID string) (models.Task, error)
	ConfirmStep(ctx context.Context, taskID string, next models.Status, actingUserID string) (models.Task, error)
	Assign(ctx context.Context, taskID string, user models.User) (models.Task, error)
	Delete(ctx context.Context, taskID string) error
	Get(ctx context.Context, taskID string) (models.Task, error)
}

// Sync exposes the engine operations the API triggers. *syncer.Engine
// implements it.
type Sync interface {
	Online() bool
	Refresh(ctx context.Context) ([]models.Task, error)
	Reconcile(ctx context.Context) (syncer.PassResult, error)
}

// Directory resolves users on the remote service. *remote.Client
// implements it.
type Directory interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

// Options configure the agent API.
type Options struct {
	// DefaultUserID acts when a request has no X-User-ID header.
	DefaultUserID string
	Registry      *prom.Registry
	Logger        *slog.Logger
}

// Server is the agent's HTTP API.
type Server struct {
	engine    *gin.Engine
	tasks     Tasks
	sync      Sync
	directory Directory
	opts      Options
	logger    *slog.Logger
}

// New builds the agent API.
func New(tasks Tasks, sync Sync, directory Directory, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	srv := &Server{
		engine:    router,
		tasks:     tasks,
		sync:      sync,
		directory: directory,
		opts:      opts,
		logger:    logger,
	}
	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api", s.resolveActor)
	{
		api.GET("/healthz", s.handleHealth)
		api.POST("/sync", s.handleSync)

		tasks := api.Group("/tasks")
		{
			tasks.GET("", s.handleListTasks)
			tasks.POST("", s.handleCreateTask)
			tasks.GET(":id", s.handleGetTask)
			tasks.DELETE(":id", s.handleDeleteTask)
			tasks.POST(":id/steps", s.handleConfirmStep)
			tasks.PUT(":id/assignee", s.handleAssign)
		}
	}

	if s.opts.Registry != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics.HTTPHandler(s.opts.Registry)))
	}
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
}

// resolveActor stores the acting user id in the request context.
func (s *Server) resolveActor(c *gin.Context) {
	uid := strings.TrimSpace(c.GetHeader(UserHeader))
	if uid == "" {
		uid = s.opts.DefaultUserID
	}
	c.Set(actorKey, uid)
	c.Next()
}

func actor(c *gin.Context) string {
	return c.GetString(actorKey)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "online": s.sync.Online()})
}

// handleSync runs one reconciliation pass and reports its outcome.
func (s *Server) handleSync(c *gin.Context) {
	res, err := s.sync.Reconcile(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "online": s.sync.Online()})
}

// statusFor maps lifecycle errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrAlreadyReached),
		errors.Is(err, lifecycle.ErrBackwardStep),
		errors.Is(err, lifecycle.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrUnknownStatus),
		errors.Is(err, lifecycle.ErrInvalidTask),
		errors.Is(err, lifecycle.ErrMissingActor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs server-side failures and returns a JSON payload.
// Rejections are logged at debug level only.
func (s *Server) respondError(c *gin.Context, status int, err error) {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", logfields.Path(c.FullPath()), logfields.Error(err))
	} else {
		s.logger.Debug("request rejected", logfields.Path(c.FullPath()), logfields.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
