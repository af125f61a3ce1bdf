package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/filter"
	"relaybot/internal/normalize"
	"relaybot/internal/pipeline"
	"relaybot/internal/registry"
	"relaybot/internal/retention"
	"relaybot/internal/router"
	"relaybot/internal/sink"
	"relaybot/internal/status"
	"relaybot/internal/store"
	"relaybot/internal/upstream"
)

const shutdownTimeout = 15 * time.Second

func runRelay(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := config.RequireCredentials(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.FromConfig(cfg.Channels)
	logger.Info("channel registry loaded", "monitored", reg.EnabledCount(), "total", len(reg.Entries()))

	var (
		recordStore domain.RecordStore
		trimmer     *retention.Trimmer
		storeCloser io.Closer
	)
	if cfg.Sinks.Store.Enabled {
		st, err := store.NewSQLiteStore(cfg.Sinks.Store.DBPath, logger)
		if err != nil {
			return fmt.Errorf("record store: %w", err)
		}
		// Closed by shutdownRelay once deliveries have drained.
		storeCloser = st
		defer func() {
			if storeCloser != nil {
				st.Close()
			}
		}()
		recordStore = st
		trimmer = retention.NewTrimmer(st, logger)
	}

	var feed *sink.Feed
	if cfg.Sinks.Feed.Enabled {
		feed = sink.NewFeed(logger.With("sink", config.SinkFeed))
	}

	timeout := time.Duration(cfg.Delivery.TimeoutSeconds) * time.Second
	targets, entries, err := buildSinks(cfg, sinkDeps{
		Registry: reg,
		Store:    recordStore,
		Trimmer:  trimmer,
		Feed:     feed,
		Client:   sink.SharedHTTPClient(timeout),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	rt := router.New(router.Config{Targets: targets, Timeout: timeout, Logger: logger})
	logger.Info("sinks configured", "router", rt.Name())

	queue := bus.New(cfg.Delivery.QueueSize, logger)
	events := bus.NewEventBus(logger)

	discord := upstream.NewDiscord(upstream.DiscordConfig{
		Token:     cfg.Discord.Token,
		TokenType: cfg.Discord.TokenType,
		GuildID:   cfg.Discord.GuildID,
		Channels:  reg,
		Logger:    logger.With("upstream", "discord"),
	})

	pl := pipeline.New(pipeline.Config{
		Queue: queue,
		Filter: filter.New(filter.Config{
			Channels: reg,
			Scope:    cfg.Discord.GuildID,
			Rules:    cfg.Filter,
			Logger:   logger,
		}),
		Normalizer:  normalize.New(discord, logger),
		Router:      rt,
		SelfID:      discord.SelfID,
		Events:      events,
		MaxInFlight: cfg.Delivery.MaxInFlight,
		Logger:      logger,
	})

	agg := status.NewAggregator(status.Config{
		Version:  version,
		Upstream: discord,
		Scope:    cfg.Discord.GuildID,
		Channels: reg,
		Sinks:    entries,
		Events:   events,
		Logger:   logger,
	})

	srvCfg := status.ServerConfig{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Aggregator: agg,
		Events:     events,
		Metrics:    cfg.Server.Metrics,
		Logger:     logger,
	}
	if feed != nil {
		srvCfg.Feed = feed
		srvCfg.FeedPath = cfg.Sinks.Feed.Path
	}
	srv := status.NewServer(srvCfg)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("status server error", "err", err)
		}
	}()

	if trimmer != nil && cfg.Retention.SweepEnabled {
		sched, err := retention.NewScheduler(retention.SchedulerConfig{
			Trimmer: trimmer,
			Cron:    cfg.Retention.SweepCron,
			Keep:    cfg.Retention.Keep,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		pl.Run(ctx)
	}()

	upstreamErr := make(chan error, 1)
	go func() {
		upstreamErr <- discord.Start(ctx, queue)
	}()

	logger.Info("relay started. Press Ctrl+C to stop.", "status", "http://"+srv.Addr()+"/health")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-upstreamErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("upstream stopped", "err", err)
			runErr = err
		}
		stop()
	}
	logger.Info("shutting down relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := shutdownRelay(shutdownCtx, queue, pipelineDone, feed, storeCloser); err != nil {
		logger.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = err
		}
	} else {
		logger.Info("shutdown complete")
	}
	storeCloser = nil
	return runErr
}

// shutdownRelay closes the queue and waits, up to ctx, for the pipeline to
// finish its in-flight deliveries. The feed and the record store are closed
// only after the drain; on timeout both are left open.
func shutdownRelay(ctx context.Context, queue *bus.Queue, pipelineDone <-chan struct{}, feed *sink.Feed, st io.Closer) error {
	queue.Close()
	select {
	case <-pipelineDone:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: deliveries still running")
	}
	if feed != nil {
		feed.Close()
	}
	if st != nil {
		if err := st.Close(); err != nil {
			logger.Warn("record store close failed", "err", err)
		}
	}
	return nil
}
