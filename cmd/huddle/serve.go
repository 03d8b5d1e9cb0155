package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/huddle/internal/api"
	"github.com/zulandar/huddle/internal/auth"
	"github.com/zulandar/huddle/internal/db"
	"github.com/zulandar/huddle/internal/ingest"
	"github.com/zulandar/huddle/internal/mention"
	"github.com/zulandar/huddle/internal/relay"
	"github.com/zulandar/huddle/internal/retention"
	"github.com/zulandar/huddle/internal/room"
	"github.com/zulandar/huddle/internal/store"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		migrate    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Huddle server",
		Long: `Starts the HTTP and websocket server, the Redis relay subscriber when
relay.redis_url is set, and the notification retention job when
retention.schedule is set. Stops cleanly on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, migrate)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Huddle config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "migrate tables before serving")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, migrate bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)

	if migrate {
		if err := db.AutoMigrate(gormDB); err != nil {
			return err
		}
		logger.Info().Int("tables", len(db.AllModels())).Msg("migrated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(gormDB)
	if err != nil {
		return err
	}
	if err := st.Ping(ctx); err != nil {
		return err
	}

	registry := room.NewRegistry()
	var fanout relay.Fanout = relay.NewLocal(registry)
	var redisRelay *relay.Redis
	if cfg.Relay.RedisURL != "" {
		redisRelay, err = relay.NewRedis(ctx, relay.RedisOpts{
			URL:      cfg.Relay.RedisURL,
			Channel:  cfg.Relay.Channel,
			Registry: registry,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer redisRelay.Close()
		fanout = redisRelay
	}

	resolver, err := mention.NewResolver(mention.ResolverOpts{
		Directory:     st,
		LookupTimeout: cfg.Mentions.LookupTimeout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	pipeline, err := ingest.NewPipeline(ingest.PipelineOpts{
		Store:         st,
		Resolver:      resolver,
		Users:         st,
		Fanout:        fanout,
		PreviewLength: cfg.Mentions.PreviewLength,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	verifier, err := auth.NewJWT(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	job, err := retention.New(retention.Opts{
		Store:    st,
		Schedule: cfg.Retention.Schedule,
		MaxAge:   cfg.Retention.MaxAge,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Start(gctx, api.StartOpts{
			Opts: api.Opts{
				Store:         st,
				Registry:      registry,
				Pipeline:      pipeline,
				Auth:          verifier,
				WebSocket:     cfg.WebSocket,
				PreviewLength: cfg.Mentions.PreviewLength,
				Logger:        logger,
			},
			Port: cfg.Server.Port,
			Out:  cmd.OutOrStdout(),
		})
	})
	if redisRelay != nil {
		g.Go(func() error { return redisRelay.Run(gctx) })
	}
	g.Go(func() error { return job.Run(gctx) })

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Huddle stopped.")
	return nil
}
