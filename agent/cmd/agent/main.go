package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/liveviz/liveviz/agent/internal/config"
	"github.com/liveviz/liveviz/agent/internal/render"
	"github.com/liveviz/liveviz/agent/internal/viewer"
	"github.com/liveviz/liveviz/pkg/logging"
)

func main() {
	cmd := &cli.Command{
		Name:  "liveviz-agent",
		Usage: "Mirror liveviz channels headlessly and answer snapshot captures",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to config file; reloaded on change",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override agent.log.level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "server",
				Usage: "override agent.server_url, e.g. ws://localhost:8080/",
			},
			&cli.StringSliceFlag{
				Name:  "channel",
				Usage: "channel id to mirror (repeatable); replaces agent.channels",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("liveviz-agent failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg := config.Defaults()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	a := &cfg.Agent
	if lvl := cmd.String("log-level"); lvl != "" {
		a.Log.Level = lvl
	}
	if s := cmd.String("server"); s != "" {
		a.ServerURL = s
	}
	fixedChannels := cmd.StringSlice("channel")
	if len(fixedChannels) > 0 {
		a.Channels = fixedChannels
	}
	if a.ClientID == "" {
		a.ClientID = "agent-" + uuid.NewString()
	}

	logger, err := logging.New(os.Stdout, a.Log.Level, a.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	slog.Info("liveviz-agent starting",
		"config", configPath,
		"server_url", a.ServerURL,
		"client_id", a.ClientID,
		"channels", len(a.Channels),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool := viewer.NewPool(viewer.Options{
		ServerURL: a.ServerURL,
		ClientID:  a.ClientID,
		Initial:   a.Reconnect.Initial,
		Max:       a.Reconnect.Max,
		Renderer:  render.New(a.Render.Title),
	})
	pool.Sync(ctx, a.Channels)
	if len(a.Channels) == 0 {
		slog.Warn("no channels configured, agent will idle")
	}

	// Channel list changes are applied live; other settings need a restart.
	if configPath != "" && len(fixedChannels) == 0 {
		go func() {
			current := a.Channels
			err := config.Watch(ctx, configPath, func(updated *config.Config) {
				if config.SameChannels(current, updated.Agent.Channels) {
					return
				}
				current = updated.Agent.Channels
				pool.Sync(ctx, current)
				slog.Info("channels updated from config", "channels", len(current))
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("liveviz-agent shutting down")
	pool.Wait()
	return nil
}
