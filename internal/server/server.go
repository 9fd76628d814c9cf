package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"

	"tracktrip/internal/logfields"
	"tracktrip/internal/metrics"
	"tracktrip/internal/models"
)

// DocumentStore is the persistence used by the remote task service.
type DocumentStore interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	GetTask(ctx context.Context, id string) (models.Task, error)
	UpsertTask(ctx context.Context, t models.Task) (models.Task, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	UpsertUser(ctx context.Context, u models.User) (models.User, error)
	Ping(ctx context.Context) error
}

// Server provides the HTTP API of the remote task store.
type Server struct {
	engine   *gin.Engine
	store    DocumentStore
	logger   *slog.Logger
	registry *prom.Registry
	upserts  *prom.CounterVec
}

// New constructs the HTTP server with routes and middleware configured.
// A nil registry disables the metrics endpoint.
func New(store DocumentStore, logger *slog.Logger, registry *prom.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/api/healthz", "/metrics"))

	srv := &Server{
		engine:   router,
		store:    store,
		logger:   logger,
		registry: registry,
	}
	if registry != nil {
		srv.upserts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "tracktrip",
			Subsystem: "remote",
			Name:      "task_upserts_total",
			Help:      "Task merge-upserts handled by the remote store",
		}, []string{"result"})
		registry.MustRegister(srv.upserts)
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API handlers together.
func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)

		tasks := api.Group("/tasks")
		{
			tasks.GET("", s.handleListTasks)
			tasks.GET(":id", s.handleGetTask)
			tasks.PUT(":id", s.handleUpsertTask)
		}

		users := api.Group("/users")
		{
			users.GET("", s.handleListUsers)
			users.GET(":id", s.handleGetUser)
			users.PUT(":id", s.handleUpsertUser)
		}
	}

	if s.registry != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics.HTTPHandler(s.registry)))
	}
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
}

// handleHealth reports readiness including database reachability.
func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.respondError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) countUpsert(result string) {
	if s.upserts == nil {
		return
	}
	s.upserts.WithLabelValues(result).Inc()
}

// respondError logs the error and returns a JSON payload.
func (s *Server) respondError(c *gin.Context, status int, err error) {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	s.logger.Error("request failed", logfields.Path(c.FullPath()), logfields.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondSuccess writes payload as JSON, or only the status when payload is nil.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}
