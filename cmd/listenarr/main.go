// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/listenarr/listenarr/internal/buildinfo"
	"github.com/listenarr/listenarr/internal/catalog"
	"github.com/listenarr/listenarr/internal/config"
	"github.com/listenarr/listenarr/internal/conversion"
	"github.com/listenarr/listenarr/internal/database"
	"github.com/listenarr/listenarr/internal/domain"
	"github.com/listenarr/listenarr/internal/downloadclient"
	"github.com/listenarr/listenarr/internal/events"
	"github.com/listenarr/listenarr/internal/importer"
	"github.com/listenarr/listenarr/internal/logger"
	"github.com/listenarr/listenarr/internal/metrics"
	"github.com/listenarr/listenarr/internal/models"
	"github.com/listenarr/listenarr/internal/orchestrator"
	"github.com/listenarr/listenarr/internal/pipeline"
	"github.com/listenarr/listenarr/internal/search"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "listenarr",
		Short: "audiobook download orchestration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the monitor loop and event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildinfo.String())
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(configPath string) error {
	appConfig, err := config.New(configPath, buildinfo.Version)
	if err != nil {
		return err
	}
	cfg := appConfig.Get()

	logger.Setup(cfg)
	log.Info().Str("version", buildinfo.Version).Msg("starting listenarr")

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := database.New(filepath.Join(dataDir, "listenarr.db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store := models.NewQueueStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := downloadclient.NewQBittorrent(ctx, downloadclient.QBittorrentConfig{
		Name:     cfg.QBittorrent.Name,
		Host:     cfg.QBittorrent.Host,
		Username: cfg.QBittorrent.Username,
		Password: cfg.QBittorrent.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to connect download client: %w", err)
	}

	bus := events.NewBus(128)
	defer bus.Close()

	orch := orchestrator.New(orchestratorConfig(cfg), orchestrator.Deps{
		Store:   store,
		Retry:   retryPolicy(cfg),
		Search:  search.NewHTTPAdapter(cfg.SearchURL),
		Client:  client,
		Fetcher: downloadclient.NewFetcher(appConfig),
		PathMapper: downloadclient.NewPathMapper(pathMappings(cfg)),
		CatalogDownloader: catalog.NewProgramDownloader(
			cfg.CatalogDownloader.Path,
			cfg.CatalogDownloader.ArgsTemplate,
			time.Duration(cfg.CatalogDownloader.TimeoutMinutes)*time.Minute,
		),
		CatalogPoolSize: cfg.CatalogConcurrency,
		Converter: conversion.NewProgram(
			cfg.Converter.Path,
			cfg.Converter.ArgsTemplate,
			time.Duration(cfg.Converter.TimeoutMinutes)*time.Minute,
		),
		Importer: importer.New(cfg.LibraryPath, cfg.NamingTemplate),
		Events:   bus,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(gctx)
	})

	g.Go(func() error {
		return appConfig.Watch(gctx.Done())
	})

	g.Go(func() error {
		return serveHTTP(gctx, cfg, store, bus)
	})

	err = g.Wait()
	if err == context.Canceled {
		log.Info().Msg("listenarr stopped")
		return nil
	}
	return err
}

func serveHTTP(ctx context.Context, cfg domain.Config, store *models.QueueStore, bus *events.Bus) error {
	r := chi.NewRouter()
	events.NewSSEHandler(bus).Routes(r)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.NewManager(store).Handler())
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("http listener started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func orchestratorConfig(cfg domain.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.PollingInterval = cfg.PollingInterval()
	oc.MaxActiveSearches = cfg.MaxActiveSearches
	oc.MaxConcurrentDownloads = cfg.MaxConcurrentDownloads
	oc.MinSearchConfidence = cfg.MinSearchConfidence
	oc.SeedingEnabled = cfg.SeedingEnabled
	oc.SeedRatioLimit = cfg.SeedRatioLimit
	oc.SeedTimeLimitSeconds = cfg.SeedTimeLimitSeconds
	oc.DeleteSourceAfterImport = cfg.DeleteSourceAfterImport
	oc.KeepTorrentActive = cfg.KeepTorrentActive
	oc.WaitForSeeding = cfg.WaitForSeeding
	oc.TempDownloadPath = cfg.TempDownloadPath
	oc.TempConversionPath = cfg.TempConversionPath
	oc.ExternalBaseURLOverride = cfg.ExternalBaseURLOverride
	if cfg.QBittorrent.Category != "" {
		oc.ClientCategory = cfg.QBittorrent.Category
	}
	return oc
}

func retryPolicy(cfg domain.Config) *pipeline.RetryPolicy {
	budgets := make(map[pipeline.FailureKind]int, len(cfg.RetryBudgets))
	for kind, budget := range cfg.RetryBudgets {
		budgets[pipeline.Status(kind)] = budget
	}
	return pipeline.NewRetryPolicy(budgets, cfg.RetryBackoff())
}

func pathMappings(cfg domain.Config) []downloadclient.PathMapping {
	mappings := make([]downloadclient.PathMapping, 0, len(cfg.TorrentClientPathMappings))
	for _, m := range cfg.TorrentClientPathMappings {
		mappings = append(mappings, downloadclient.PathMapping{Remote: m.Remote, Local: m.Local})
	}
	return mappings
}
