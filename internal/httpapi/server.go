package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/globaltime"
	"github.com/btighe428/cityping-sub002/internal/pipeline"
)

// Engine is the pipeline surface the API exposes. *pipeline.Service satisfies it.
type Engine interface {
	ProcessUnembedded(ctx context.Context, batchSize int) (pipeline.JobResult, error)
	FindSimilarIn(ctx context.Context, class content.Class, vec []float64, limit int, threshold float64) ([]pipeline.SimilarItem, error)
	EmbedText(ctx context.Context, text string) ([]float64, int, error)
	Curate(ctx context.Context, opts pipeline.CurateOptions) (pipeline.CurateResult, error)
	Options() pipeline.Options
}

type Options struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
}

type Server struct {
	engine Engine
	logger zerolog.Logger
	opts   Options
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8090
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
)

// withDefaults fills zero fields.
func (o Options) withDefaults() Options {
	o.Host = strings.TrimSpace(o.Host)
	if o.Host == "" {
		o.Host = defaultHost
	}
	if o.Port <= 0 {
		o.Port = defaultPort
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(o.CORSAllowedOrigins) == 0 {
		o.CORSAllowedOrigins = []string{"*"}
	}
	return o
}

func NewServer(engine Engine, logger zerolog.Logger, opts Options) *Server {
	return &Server{engine: engine, logger: logger, opts: opts.withDefaults()}
}

// Handler builds the echo router with middleware and every API route.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("16M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.CORSAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:     true,
		LogURI:        true,
		LogMethod:     true,
		LogLatency:    true,
		LogRemoteIP:   true,
		LogRequestID:  true,
		LogError:      true,
		LogValuesFunc: s.logRequest,
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/dedup", s.handleDedup)
	api.POST("/duplicates", s.handleDuplicates)
	api.POST("/clusters", s.handleClusters)
	api.POST("/clusters/merge", s.handleMergeClusters)
	api.POST("/embeddings/process", s.handleProcessEmbeddings)
	api.POST("/similar", s.handleSimilar)
	api.POST("/curate", s.handleCurate)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.engine == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("cityping api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("cityping api server stopped")
	return nil
}

func (s *Server) logRequest(_ echo.Context, v middleware.RequestLoggerValues) error {
	event := s.logger.Info()
	msg := "http request"
	if v.Error != nil {
		event = s.logger.Error().Err(v.Error)
		msg = "http request failed"
	}
	event.
		Str("method", v.Method).
		Str("uri", v.URI).
		Int("status", v.Status).
		Dur("latency", v.Latency).
		Str("remote_ip", v.RemoteIP).
		Str("request_id", v.RequestID).
		Msg(msg)
	return nil
}

// httpErrorHandler renders errors that escaped a handler. Routing errors keep
// their status; anything else is an engine fault and is not echoed back.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code >= http.StatusInternalServerError {
		_ = internalError(c, "Internal server error")
		return
	}
	message := http.StatusText(he.Code)
	if text, ok := he.Message.(string); ok && strings.TrimSpace(text) != "" {
		message = text
	}
	_ = fail(c, he.Code, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "cityping",
		"time":    globaltime.UTC(),
	})
}
