package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"calfeed/internal/config"
	appErrors "calfeed/internal/errors"
	"calfeed/internal/feed"
	"calfeed/internal/filter"
	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
)

const contentTypeCalendar = "text/calendar; charset=utf-8"

// Feeds is satisfied by *feed.Service.
type Feeds interface {
	Lessons(ctx context.Context, req feed.LessonsRequest) ([]byte, error)
	Exams(ctx context.Context, req feed.ExamsRequest) ([]byte, error)
}

// Readiness is satisfied by *probe.Probe.
type Readiness interface {
	Ready() bool
	Last() (time.Time, error)
}

// Server exposes the lessons and exams feeds plus health, readiness and
// metrics endpoints.
type Server struct {
	cfg      *config.Config
	feeds    Feeds
	ready    Readiness
	metrics  *metrics.Service
	validate *validator.Validate
	engine   *gin.Engine
}

// Option customises a Server.
type Option func(*serverOptions)

type serverOptions struct {
	now func() time.Time
}

// WithClock overrides the clock bounding the accepted calendar year.
func WithClock(now func() time.Time) Option {
	return func(o *serverOptions) { o.now = now }
}

// NewServer constructs a new Server. ready and m may be nil.
func NewServer(cfg *config.Config, feeds Feeds, ready Readiness, m *metrics.Service, opts ...Option) *Server {
	o := serverOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		cfg:      cfg,
		feeds:    feeds,
		ready:    ready,
		metrics:  m,
		validate: newValidator(o.now),
		engine:   gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(requestID())
	s.engine.Use(accessLog(appLog.Zap()))
	s.engine.Use(observe(m))
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+cfg.Listen)
		s.engine.Use(basicAuth(cfg.BasicAuth))
	}

	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// HTTPServer wraps the handler in an *http.Server bound to cfg.Listen.
// Shutdown is left to the caller.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// Upstream calls are bounded by their own timeout; leave headroom.
		WriteTimeout: s.cfg.Upstream.Timeout + 20*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.engine.GET("/esami/:course/:year/:ordinal", s.handleExams)
	s.engine.GET("/:course/:year/:ordinal/:group", s.handleLessons)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Not Found"})
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c *gin.Context) {
	if s.ready != nil && !s.ready.Ready() {
		writeError(c, appErrors.ErrServiceUnavailable)
		return
	}
	body := gin.H{"status": "ok"}
	if s.ready != nil {
		if at, _ := s.ready.Last(); !at.IsZero() {
			body["last_check"] = at.UTC().Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleLessons(c *gin.Context) {
	var path lessonsPath
	if err := c.ShouldBindUri(&path); err != nil {
		writeValidation(c, err)
		return
	}
	var query lessonsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeValidation(c, err)
		return
	}
	if err := s.validateAll(&path, &query); err != nil {
		writeValidation(c, err)
		return
	}

	mode, err := filter.ParseMode(query.Mode)
	if err != nil {
		writeValidation(c, err)
		return
	}

	body, err := s.feeds.Lessons(c.Request.Context(), feed.LessonsRequest{
		Course:  path.Course,
		Year:    path.Year,
		Ordinal: path.Ordinal,
		Group:   path.Group,
		Lang:    langOrDefault(query.Lang),
		Alarms:  query.Alarms,
		Filters: query.Filters,
		Mode:    mode,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeCalendar(c, body)
}

func (s *Server) handleExams(c *gin.Context) {
	var path examsPath
	if err := c.ShouldBindUri(&path); err != nil {
		writeValidation(c, err)
		return
	}
	var query examsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeValidation(c, err)
		return
	}
	if err := s.validateAll(&path, &query); err != nil {
		writeValidation(c, err)
		return
	}

	body, err := s.feeds.Exams(c.Request.Context(), feed.ExamsRequest{
		Course:  path.Course,
		Year:    path.Year,
		Ordinal: path.Ordinal,
		Lang:    langOrDefault(query.Lang),
		Alarms:  query.Alarms,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeCalendar(c, body)
}

func (s *Server) validateAll(structs ...any) error {
	for _, v := range structs {
		if err := s.validate.Struct(v); err != nil {
			return err
		}
	}
	return nil
}

func writeCalendar(c *gin.Context, body []byte) {
	c.Data(http.StatusOK, contentTypeCalendar, body)
}

func writeValidation(c *gin.Context, err error) {
	appErr := appErrors.Clone(appErrors.ErrValidation, describe(err))
	appErr.Err = err
	writeError(c, appErr)
}

// writeError renders any error as {"message": ...} with its mapped status.
// Causes are logged, never returned to clients.
func writeError(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		appLog.Error("request failed", err,
			"path", c.Request.URL.Path,
			"status", appErr.Status,
			"request_id", requestIDValue(c),
		)
	}
	c.AbortWithStatusJSON(appErr.Status, gin.H{"message": appErr.Message})
}
