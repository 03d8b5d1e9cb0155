// Package api serves Huddle's HTTP surface: REST endpoints for thread
// history, posting and notifications, the websocket endpoint, health and
// metrics.
package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/huddle/internal/config"
	"github.com/zulandar/huddle/internal/models"
	"github.com/zulandar/huddle/internal/room"
	"github.com/zulandar/huddle/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Store is the persistence the HTTP handlers read from.
type Store interface {
	Ping(ctx context.Context) error
	ThreadHistory(ctx context.Context, candidateID string) ([]models.Message, error)
	UsersByID(ctx context.Context, ids []string) (map[string]models.User, error)
	Notifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	CandidateNames(ctx context.Context, ids []string) (map[string]string, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// Authenticator checks bearer tokens.
type Authenticator interface {
	Verify(ctx context.Context, token, userID string) error
	Authenticate(token string) (string, error)
}

// Opts holds the collaborators the router needs.
type Opts struct {
	Store         Store
	Registry      *room.Registry
	Pipeline      session.Poster
	Auth          Authenticator
	WebSocket     config.WebSocketConfig
	PreviewLength int
	Logger        zerolog.Logger
}

func (o Opts) validate() error {
	if o.Store == nil {
		return fmt.Errorf("api: store is required")
	}
	if o.Registry == nil {
		return fmt.Errorf("api: registry is required")
	}
	if o.Pipeline == nil {
		return fmt.Errorf("api: pipeline is required")
	}
	if o.Auth == nil {
		return fmt.Errorf("api: auth is required")
	}
	return nil
}

// NewRouter builds the gin engine.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger), recordMetrics())
	registerRoutes(router, opts)
	return router, nil
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Opts
	Port int
	Out  io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully. Open websocket sessions end with ctx.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.Opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 5000
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			opts.Logger.Warn().Err(err).Msg("api: shutdown")
		}
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Huddle listening on http://localhost:%d\n", opts.Port)
	}
	opts.Logger.Info().Int("port", opts.Port).Msg("api: listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
