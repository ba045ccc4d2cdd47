// Package server exposes chat sessions over HTTP with streamed replies.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"portfolioagent/config"
	"portfolioagent/internal/llm"
	"portfolioagent/internal/logging"
	"portfolioagent/internal/session"
)

const (
	shutdownTimeout  = 10 * time.Second
	limiterExpiresIn = 3 * time.Minute
)

// Options are the HTTP surface settings.
type Options struct {
	Listen         string
	Rate           float64
	Burst          int
	AllowedOrigins []string
}

// OptionsFrom picks the server settings out of s.
func OptionsFrom(s *config.Settings) Options {
	return Options{
		Listen:         s.Server.Listen,
		Rate:           s.Server.Rate,
		Burst:          s.Server.Burst,
		AllowedOrigins: s.Server.AllowedOrigins,
	}
}

type Server struct {
	echo     *echo.Echo
	engine   *llm.Engine
	sessions *session.Registry
	opts     Options
}

func New(engine *llm.Engine, sessions *session.Registry, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))

	s := &Server{
		echo:     e,
		engine:   engine,
		sessions: sessions,
		opts:     opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.health)

	api := s.echo.Group("/api")
	if s.opts.Rate > 0 {
		burst := s.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		api.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(s.opts.Rate),
				Burst:     burst,
				ExpiresIn: limiterExpiresIn,
			},
		)))
	}

	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id/messages", s.listMessages)
	api.POST("/sessions/:id/messages", s.postMessage)
	api.DELETE("/sessions/:id", s.deleteSession)
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	go s.sessions.Expire(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.opts.Listen).Msg("serving")
		if err := s.echo.Start(s.opts.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// Apply takes the reloadable parts of s: the turn budget and log level.
func (s *Server) Apply(settings *config.Settings) {
	s.engine.SetBudget(settings.Orchestrator.Budget)
	logging.SetLevel(settings.Log.Level)
	log.Info().Dur("budget", settings.Orchestrator.Budget).Str("level", settings.Log.Level).Msg("settings reloaded")
}

// WatchConfig applies edits to the config file at path until ctx is done.
// Flags set in flags override the file as they did at startup.
func (s *Server) WatchConfig(ctx context.Context, path string, flags *pflag.FlagSet) error {
	return config.Watch(ctx, path, flags, s.Apply, func(err error) {
		log.Warn().Err(err).Msg("config reload ignored")
	})
}
