// Package controlapi exposes the Scheduler as the internal action-dispatch
// HTTP surface a GUI or CLI front-end drives. Its routes are an internal
// contract, not a versioned public API — they change whenever the
// Scheduler's own capabilities do.
package controlapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streamspace-dev/payload-launcher/internal/diskcheck"
	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/gpu"
	"github.com/streamspace-dev/payload-launcher/internal/ipc"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
)

// ErrorResponse is the JSON body returned for any non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Scheduler is the subset of *scheduler.Scheduler this package calls,
// kept as an interface so controlapi doesn't import scheduler directly
// and tests can supply a fake.
type Scheduler interface {
	RunAction(ctx context.Context, installationID, actionID string, actionData map[string]any) (plugin.ActionResult, error)
	Cancel(id string) bool
	Sessions() []SessionInfo
	ValidateInstallPath(path string) []diskcheck.Issue
	DiskSpace(path string) (diskcheck.Space, error)
}

// SessionInfo is the read-only session summary Scheduler.Sessions
// returns; the healthz endpoint reports how many there are.
type SessionInfo struct {
	InstallationID string    `json:"installationId"`
	Port           int       `json:"port"`
	StartedAt      time.Time `json:"startedAt"`
}

// Registry is the subset of *registry.Registry this package calls.
type Registry interface {
	List() []registry.Record
	Get(id string) (registry.Record, bool)
}

// Server wires the gin router the teacher's own cmd/main.go pattern
// builds up middleware-by-middleware, pared down to a single local
// user's internal control surface.
type Server struct {
	log       *zap.Logger
	scheduler Scheduler
	registry  Registry
	sink      *ipc.Hub
	router    *gin.Engine
}

// New builds a Server and registers its routes.
func New(log *zap.Logger, sched Scheduler, reg Registry, sink *ipc.Hub) *Server {
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	s := &Server{log: log, scheduler: sched, registry: reg, sink: sink, router: router}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/hardware", s.handleHardware)
	s.router.GET("/paths/validate", s.handleValidatePath)
	s.router.GET("/paths/disk-space", s.handleDiskSpace)
	s.router.GET("/ws", func(c *gin.Context) { s.sink.ServeHTTP(c) })

	v1 := s.router.Group("/installations")
	v1.GET("", s.handleList)
	v1.GET("/:id", s.handleGet)
	v1.POST("/:id/actions/:actionId", s.handleAction)
	v1.POST("/:id/cancel", s.handleCancel)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"activeSessions": len(s.scheduler.Sessions()),
	})
}

// handleHardware reports the host's GPU configuration, letting a front-end
// warn about an unsupported setup before an install is attempted.
func (s *Server) handleHardware(c *gin.Context) {
	result, err := gpu.Detect()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "ProbeFailed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleValidatePath flags a candidate install path before the user
// commits to it: inside the launcher's own data, an existing installation,
// a shared directory, or a cloud-sync folder.
func (s *Server) handleValidatePath(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "BadRequest", Message: "path query parameter required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": s.scheduler.ValidateInstallPath(path)})
}

func (s *Server) handleDiskSpace(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "BadRequest", Message: "path query parameter required"})
		return
	}
	space, err := s.scheduler.DiskSpace(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "ProbeFailed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, space)
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Server) handleGet(c *gin.Context) {
	rec, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "UnknownInstallation"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleAction(c *gin.Context) {
	var body struct {
		ActionData map[string]any `json:"actionData"`
	}
	// A body is optional: most actions carry no data.
	_ = c.ShouldBindJSON(&body)

	result, err := s.scheduler.RunAction(c.Request.Context(), c.Param("id"), c.Param("actionId"), body.ActionData)
	if err != nil {
		writeActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCancel(c *gin.Context) {
	ok := s.scheduler.Cancel(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

// writeActionError maps the core error taxonomy (spec.md §7) onto HTTP
// status codes; everything else is a 500 carrying the error's message.
func writeActionError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case isErr(err, errs.ErrUnknownInstallation), isErr(err, errs.ErrUnknownSource):
		status = http.StatusNotFound
	case isErr(err, errs.ErrAnotherOperationRunning), isErr(err, errs.ErrAlreadyRunning):
		status = http.StatusConflict
	case isErr(err, errs.ErrSafetyCheckFailed), isErr(err, errs.ErrInstallDirEmpty), isErr(err, errs.ErrDuplicatePath), isErr(err, errs.ErrDuplicateName):
		status = http.StatusBadRequest
	}
	c.JSON(status, ErrorResponse{Error: status200Name(status), Message: err.Error()})
}

func isErr(err, target error) bool {
	return errors.Is(err, target)
}

func status200Name(code int) string {
	switch code {
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusBadRequest:
		return "BadRequest"
	default:
		return "InternalError"
	}
}
