package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/liveviz/liveviz/pkg/logging"
	"github.com/liveviz/liveviz/server/internal/api"
	"github.com/liveviz/liveviz/server/internal/assets"
	"github.com/liveviz/liveviz/server/internal/auth"
	"github.com/liveviz/liveviz/server/internal/channel"
	"github.com/liveviz/liveviz/server/internal/config"
	"github.com/liveviz/liveviz/server/internal/export"
	"github.com/liveviz/liveviz/server/internal/launch"
	"github.com/liveviz/liveviz/server/internal/metrics"
	"github.com/liveviz/liveviz/server/internal/ws"
)

func main() {
	cmd := &cli.Command{
		Name:  "liveviz-server",
		Usage: "Serve live-updating visualizations to browser viewers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to config file (defaults are used when empty)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override server.log.level: debug, info, warn, error",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "override server.http_port (0 picks a free port)",
				Value: -1,
			},
			&cli.BoolFlag{
				Name:  "open",
				Usage: "open a browser on every preloaded channel",
			},
			&cli.StringFlag{
				Name:  "embed-file",
				Usage: "HTML file that inline displays are written to",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("liveviz-server failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.Defaults()
	if path := cmd.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Server.Log.Level = lvl
	}
	if port := cmd.Int("port"); port >= 0 {
		cfg.Server.HTTPPort = int(port)
	}

	logger, err := logging.New(os.Stdout, cfg.Server.Log.Level, cfg.Server.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Listen before building the hub so viewer URLs carry the real port when
	// http_port is 0.
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.HTTPPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Server.HTTPPort, err)
	}
	port := lis.Addr().(*net.TCPAddr).Port

	slog.Info("liveviz-server starting",
		"config", cmd.String("config"),
		"port", port,
		"auth_mode", cfg.Server.Auth.Mode,
		"idle_ttl", cfg.Server.Channels.IdleTTL,
	)

	hub := ws.New(ws.Options{
		Host:         cfg.Server.Host,
		Port:         port,
		SendBuffer:   cfg.Server.Viewer.SendBuffer,
		ReadLimit:    cfg.Server.Viewer.ReadLimit,
		WriteTimeout: cfg.Server.Viewer.WriteTimeout,
		PongWait:     cfg.Server.Viewer.PongWait,
		IdleTTL:      cfg.Server.Channels.IdleTTL,
	})
	if cfg.Server.Assets.WatchEnabled() {
		hub.OnChannelCreated(func(ch *channel.Channel) { watchAssets(ctx, ch) })
	}

	opts := export.Options{
		Launcher: launch.Browser{},
		Timeout:  cfg.Server.Capture.Timeout,
		Settle:   cfg.Server.Capture.Settle,
	}
	if path := cmd.String("embed-file"); path != "" {
		opts.Embedder = launch.FileEmbedder{Path: path}
	}
	exporter := export.New(hub, opts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// api routes carry the full /api/v1 prefix, so no Mount path rewriting.
	r.Handle("/api/*", auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	)(api.New(hub, exporter)))
	r.Method(http.MethodGet, "/metrics", metrics.New(hub))
	r.Mount("/", assets.NewHandler(func(id string) (string, bool) {
		ch, ok := hub.Channel(id)
		if !ok {
			return "", false
		}
		return ch.AssetPath(), true
	}, cfg.Server.Assets.GzipEnabled()))

	// Viewers may upgrade on any path, so upgrades bypass the router.
	httpSrv := &http.Server{
		Handler:           hub.Upgrades(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go hub.Run(ctx)

	go func() {
		slog.Info("HTTP server listening", "port", port)
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	if err := preload(cfg.Server.Preload, hub, exporter, cmd.Bool("open")); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("liveviz-server shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return httpSrv.Shutdown(shutdownCtx)
}

// preload creates the channels listed in the config and opens a browser on
// those that ask for it.
func preload(channels []config.PreloadChannel, hub *ws.Hub, exporter *export.Exporter, openAll bool) error {
	for _, p := range channels {
		info, err := p.InfoJSON()
		if err != nil {
			return err
		}
		ch := hub.CreateChannel(p.AssetPath, info)
		slog.Info("channel preloaded", "channel", ch.ID(), "url", hub.VizURL(ch.ID()))
		if p.Open || openAll {
			if err := exporter.OpenInBrowser(ch.ID()); err != nil {
				slog.Warn("could not open browser", "channel", ch.ID(), "err", err)
			}
		}
	}
	return nil
}

// watchAssets broadcasts a reload to the channel's viewers whenever a file
// in its asset directory changes, until the channel or the server stops.
func watchAssets(parent context.Context, ch *channel.Channel) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-ch.Done():
		case <-ctx.Done():
		}
		cancel()
	}()
	go func() {
		err := assets.Watch(ctx, ch.AssetPath(), assets.DefaultDebounce, ch.Reload)
		if err != nil {
			slog.Warn("asset watch stopped", "channel", ch.ID(), "dir", ch.AssetPath(), "err", err)
		}
	}()
	slog.Debug("watching assets", "channel", ch.ID(), "dir", ch.AssetPath())
}
