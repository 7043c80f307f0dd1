package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leadcheck/leadcheck/internal/config"
	"github.com/leadcheck/leadcheck/internal/feed"
	"github.com/leadcheck/leadcheck/internal/httpapi"
	"github.com/leadcheck/leadcheck/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the HTTP API, live feed and intake hook",
	Long: `Run the HTTP API. The server, the feed relay and the roster watcher run
until SIGINT or SIGTERM; the first to fail stops the others.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			config.Set("http.addr", addr)
		}
		if err := runServer(rootCtx); err != nil {
			FatalError("%v", err)
		}
	},
}

func runServer(ctx context.Context) error {
	if err := telemetry.Init(ctx, "leadcheck", Version); err != nil {
		WarnError("telemetry disabled: %v", err)
	}
	defer telemetry.Shutdown(context.Background())

	relay, stopRelay, err := feedRelay(true)
	if err != nil {
		return fmt.Errorf("feed relay: %w", err)
	}
	defer stopRelay()

	hub := feed.NewHub(feed.Options{
		Buffer:  config.GetInt("feed.buffer"),
		History: config.GetInt("feed.history"),
		Relay:   relay,
		Logger:  logger,
	})

	svc, err := buildServices(ctx, hub)
	if err != nil {
		return err
	}
	store = svc.store

	srv, err := httpapi.NewServer(httpapi.ServerConfig{
		Handoff:      svc.orch,
		Feed:         hub,
		JWTSecret:    []byte(config.GetString("auth.jwt_secret")),
		IntakeSecret: []byte(config.GetString("intake.secret")),
		CORSOrigins:  config.GetStringSlice("http.cors_origins"),
		Logger:       logger,
		FeedOptions:  []feed.StreamOption{feed.WithHeartbeatInterval(config.GetDuration("feed.heartbeat"))},
	})
	if err != nil {
		return err
	}

	logger.Info("starting leadcheck",
		"version", Version,
		"db", config.GetString("db.driver"),
		"relay", config.GetString("feed.relay"),
		"roster_agents", svc.roster.Len(),
		"config", config.ConfigFileUsed(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, config.GetString("http.addr")) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return svc.roster.Watch(gctx) })
	return g.Wait()
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides http.addr)")
	rootCmd.AddCommand(serveCmd)
}
