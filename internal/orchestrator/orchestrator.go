// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package orchestrator drives queue items through the acquisition pipeline.
// A single monitor goroutine advances state; the catalog pool is the only
// concurrent worker and hands results back through its outcome channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/listenarr/listenarr/internal/catalog"
	"github.com/listenarr/listenarr/internal/conversion"
	"github.com/listenarr/listenarr/internal/downloadclient"
	"github.com/listenarr/listenarr/internal/events"
	"github.com/listenarr/listenarr/internal/importer"
	"github.com/listenarr/listenarr/internal/models"
	"github.com/listenarr/listenarr/internal/pipeline"
	"github.com/listenarr/listenarr/internal/search"
)

const (
	adapterTimeout = 30 * time.Second
	panicSleep     = 5 * time.Second
)

// ErrCancelNotAllowed is returned by Cancel for states that are already
// settled.
var ErrCancelNotAllowed = errors.New("item cannot be cancelled in its current state")

// Config carries the orchestrator's tunables.
type Config struct {
	PollingInterval         time.Duration
	MaxActiveSearches       int
	MaxConcurrentDownloads  int
	MinSearchConfidence     int
	SeedingEnabled          bool
	SeedRatioLimit          float64
	SeedTimeLimitSeconds    int64
	DeleteSourceAfterImport bool
	KeepTorrentActive       bool
	WaitForSeeding          bool
	TempDownloadPath        string
	TempConversionPath      string
	ExternalBaseURLOverride string
	ClientCategory          string
}

// DefaultConfig returns the stock orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		PollingInterval:        2 * time.Second,
		MaxActiveSearches:      2,
		MaxConcurrentDownloads: 2,
		MinSearchConfidence:    85,
		SeedRatioLimit:         2.0,
		SeedTimeLimitSeconds:   604800,
		KeepTorrentActive:      true,
		WaitForSeeding:         true,
		ClientCategory:         "listenarr",
	}
}

func (c *Config) normalize() {
	if c.PollingInterval < time.Second {
		c.PollingInterval = time.Second
	}
	if c.MaxActiveSearches < 1 {
		c.MaxActiveSearches = 1
	}
	if c.MaxConcurrentDownloads < 1 {
		c.MaxConcurrentDownloads = 1
	}
	if c.ClientCategory == "" {
		c.ClientCategory = "listenarr"
	}
}

// Deps are the collaborators the orchestrator drives. Events may be nil.
type Deps struct {
	Store             *models.QueueStore
	Retry             *pipeline.RetryPolicy
	Search            search.Adapter
	Client            downloadclient.Adapter
	Fetcher           *downloadclient.Fetcher
	PathMapper        *downloadclient.PathMapper
	CatalogDownloader catalog.Downloader
	CatalogPoolSize   int
	Converter         conversion.Converter
	Importer          *importer.Importer
	Events            events.Sink
}

// Orchestrator owns the monitor loop.
type Orchestrator struct {
	cfg       Config
	store     *models.QueueStore
	retry     *pipeline.RetryPolicy
	search    search.Adapter
	client    downloadclient.Adapter
	fetcher   *downloadclient.Fetcher
	mapper    *downloadclient.PathMapper
	pool      *catalog.Pool
	converter conversion.Converter
	importer  *importer.Importer
	events    events.Sink
	now       func() time.Time

	// relocated remembers items whose drifted save path was already pushed
	// back once; after that the client's path is authoritative.
	relocated map[int64]bool
}

// New wires an Orchestrator. The catalog pool is created here so its progress
// callback can write through the store and the event sink.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.normalize()

	sink := deps.Events
	if sink == nil {
		sink = events.NopSink{}
	}

	o := &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		retry:     deps.Retry,
		search:    deps.Search,
		client:    deps.Client,
		fetcher:   deps.Fetcher,
		mapper:    deps.PathMapper,
		converter: deps.Converter,
		importer:  deps.Importer,
		events:    sink,
		now:       time.Now,
		relocated: make(map[int64]bool),
	}
	o.pool = catalog.NewPool(deps.CatalogDownloader, deps.CatalogPoolSize, o.onCatalogProgress)
	return o
}

// SetNowFunc overrides the orchestrator clock. Tests only.
func (o *Orchestrator) SetNowFunc(now func() time.Time) {
	o.now = now
	o.store.SetNowFunc(now)
}

// Run executes the monitor loop until ctx is cancelled. A panicking iteration
// is logged and the loop resumes after a longer sleep.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().
		Dur("pollingInterval", o.cfg.PollingInterval).
		Int("maxActiveSearches", o.cfg.MaxActiveSearches).
		Int("maxConcurrentDownloads", o.cfg.MaxConcurrentDownloads).
		Msg("monitor loop started")

	o.cleanupOrphans(ctx)

	for {
		sleep := o.cfg.PollingInterval
		if !o.safeIterate(ctx) {
			sleep = panicSleep
		}

		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (o *Orchestrator) shutdown() {
	log.Info().Msg("monitor loop stopping, cancelling catalog downloads")
	for _, item := range o.listByStatus(context.Background(), pipeline.StatusAudibleDownloading) {
		o.pool.Cancel(item.ID)
	}
	o.pool.Wait()
}

func (o *Orchestrator) safeIterate(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Msg("monitor loop iteration panicked")
			ok = false
		}
	}()
	o.iterate(ctx)
	return true
}

// Iterate runs one monitor loop pass. Exported for tests; Run calls it on its
// own schedule.
func (o *Orchestrator) Iterate(ctx context.Context) {
	o.iterate(ctx)
}

func (o *Orchestrator) iterate(ctx context.Context) {
	o.drainCatalogOutcomes(ctx)
	o.processQueue(ctx)
	o.monitorDownloads(ctx)
	o.processPipeline(ctx)
}

func (o *Orchestrator) listByStatus(ctx context.Context, status pipeline.Status) []*models.QueueItem {
	items, err := o.store.List(ctx, &status, 0, 0)
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("failed to list queue items")
		return nil
	}
	return items
}

// Enqueue adds an item and announces it.
func (o *Orchestrator) Enqueue(ctx context.Context, params models.EnqueueParams) (*models.QueueItem, error) {
	item, err := o.store.Enqueue(ctx, params)
	if err != nil {
		return nil, err
	}
	o.events.Emit(events.QueueItemAdded, map[string]any{"id": item.ID, "catalog_id": item.CatalogID})
	o.events.Emit(events.QueueUpdated, map[string]any{})
	return item, nil
}

// ---- stage 1: process_queue ----------------------------------------------

func (o *Orchestrator) processQueue(ctx context.Context) {
	now := o.now().UTC()
	searchesThisPass := 0

	// Items resting in searching re-entered via a retry; the loop is
	// single-threaded, so nothing is mid-search here.
	for _, item := range o.listByStatus(ctx, pipeline.StatusSearching) {
		if !item.RetryEligible(now) {
			continue
		}
		if searchesThisPass >= o.cfg.MaxActiveSearches {
			break
		}
		searchesThisPass++
		o.performSearch(ctx, item)
	}

	for _, item := range o.listByStatus(ctx, pipeline.StatusQueued) {
		if !item.RetryEligible(now) {
			continue
		}

		if item.Kind == pipeline.KindCatalog {
			o.dispatchCatalog(ctx, item)
			continue
		}

		if item.PreSelectedSource != nil && *item.PreSelectedSource != "" {
			if err := o.store.SetSource(ctx, item.ID, *item.PreSelectedSource, item.SourceInfoHash, nil); err != nil {
				log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record pre-selected source")
				continue
			}
			o.transition(ctx, item.ID, item.Status, pipeline.StatusFound)
			continue
		}

		if searchesThisPass >= o.cfg.MaxActiveSearches {
			continue
		}
		searchesThisPass++
		o.runSearch(ctx, item)
	}

	for _, item := range o.listByStatus(ctx, pipeline.StatusFound) {
		if item.Kind == pipeline.KindCatalog {
			continue
		}
		if !item.RetryEligible(now) {
			continue
		}
		if !o.downloadSlotFree(ctx) {
			break
		}
		o.dispatchDownload(ctx, item)
	}
}

func (o *Orchestrator) downloadSlotFree(ctx context.Context) bool {
	active, err := o.store.CountByStatus(ctx, pipeline.StatusDownloading, pipeline.StatusAudibleDownloading)
	if err != nil {
		log.Error().Err(err).Msg("failed to count active downloads")
		return false
	}
	return active < o.cfg.MaxConcurrentDownloads
}

func (o *Orchestrator) runSearch(ctx context.Context, item *models.QueueItem) {
	moved, ok := o.transition(ctx, item.ID, item.Status, pipeline.StatusSearching)
	if !ok {
		return
	}
	o.performSearch(ctx, moved)
}

func (o *Orchestrator) performSearch(ctx context.Context, item *models.QueueItem) {
	searchCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
	defer cancel()

	candidates, err := o.search.Search(searchCtx, item.Title, item.Author, item.CatalogID)
	if err != nil {
		o.recordFailure(ctx, item, pipeline.StatusSearchFailed, fmt.Sprintf("search failed: %v", err))
		return
	}

	candidate := search.Select(candidates, o.cfg.MinSearchConfidence)
	if candidate == nil {
		o.recordFailure(ctx, item, pipeline.StatusSearchFailed, "confidence below threshold")
		return
	}

	var infoHash *string
	if candidate.SourceInfoHash != "" {
		infoHash = &candidate.SourceInfoHash
	}
	indexer := candidate.IndexerName
	if err := o.store.SetSource(ctx, item.ID, candidate.SourceURL, infoHash, &indexer); err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record selected source")
		return
	}
	o.transition(ctx, item.ID, pipeline.StatusSearching, pipeline.StatusFound)
}

func (o *Orchestrator) dispatchCatalog(ctx context.Context, item *models.QueueItem) {
	if !o.downloadSlotFree(ctx) {
		return
	}

	outputDir := o.tempDirFor(item.ID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		o.recordFailure(ctx, item, pipeline.StatusAudibleFailed, fmt.Sprintf("failed to create temp dir: %v", err))
		return
	}
	if err := o.store.SetTempPath(ctx, item.ID, outputDir); err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record temp path")
		return
	}

	req := catalog.Request{
		CatalogID:     item.CatalogID,
		OutputDir:     outputDir,
		Filename:      item.Title,
		Format:        catalogFormat(item),
		AllowFallback: catalogFormat(item) == catalog.FormatEncryptedAFallback,
	}
	if item.Quality != nil {
		req.Quality = *item.Quality
	}

	if !o.pool.Submit(ctx, item.ID, req) {
		// Pool at capacity; the item stays queued for the next pass.
		return
	}

	o.transition(ctx, item.ID, item.Status, pipeline.StatusAudibleDownloading)
	o.events.Emit(events.DownloadStarted, map[string]any{"id": item.ID})
}

func catalogFormat(item *models.QueueItem) catalog.Format {
	if item.Format == nil {
		return catalog.FormatEncryptedAFallback
	}
	return catalog.Format(*item.Format)
}

func (o *Orchestrator) dispatchDownload(ctx context.Context, item *models.QueueItem) {
	if item.SourceURL == nil || *item.SourceURL == "" {
		o.recordFailure(ctx, item, pipeline.StatusSearchFailed, "selected source has no url")
		return
	}

	sourceURL, err := downloadclient.RewriteLoopbackURL(*item.SourceURL, o.cfg.ExternalBaseURLOverride)
	if err != nil {
		o.recordFailure(ctx, item, pipeline.StatusDownloadFailed, err.Error())
		return
	}

	localDir := o.tempDirFor(item.ID)
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		o.recordFailure(ctx, item, pipeline.StatusDownloadFailed, fmt.Sprintf("failed to create temp dir: %v", err))
		return
	}
	if err := o.store.SetTempPath(ctx, item.ID, localDir); err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record temp path")
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
	defer cancel()

	fetched, err := o.fetcher.Fetch(fetchCtx, sourceURL)
	if err != nil {
		o.recordFailure(ctx, item, pipeline.StatusDownloadFailed, fmt.Sprintf("failed to fetch source: %v", err))
		return
	}

	req := downloadclient.AddRequest{
		TorrentBytes: fetched.TorrentBytes,
		MagnetURI:    fetched.MagnetURI,
		SavePath:     o.mapper.ToRemote(localDir),
		Category:     o.cfg.ClientCategory,
	}
	if item.SourceInfoHash != nil {
		req.ExpectedHash = *item.SourceInfoHash
	}

	clientID, err := o.client.Add(fetchCtx, req)
	if err != nil {
		o.recordFailure(ctx, item, pipeline.StatusDownloadFailed, fmt.Sprintf("client rejected download: %v", err))
		return
	}

	var idPtr *string
	if clientID != "" {
		idPtr = &clientID
	}
	if err := o.store.SetClient(ctx, item.ID, o.client.Name(), idPtr); err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record download client")
		return
	}

	o.transition(ctx, item.ID, item.Status, pipeline.StatusDownloading)
	o.events.Emit(events.DownloadStarted, map[string]any{"id": item.ID})
}

// ---- stage 2: monitor_downloads ------------------------------------------

func (o *Orchestrator) monitorDownloads(ctx context.Context) {
	for _, item := range o.listByStatus(ctx, pipeline.StatusDownloading) {
		if item.Kind == pipeline.KindCatalog {
			continue
		}

		if item.ClientID == nil {
			o.discoverHash(ctx, item)
			continue
		}

		statusCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
		snap, err := o.client.Status(statusCtx, *item.ClientID)
		cancel()
		if err != nil {
			log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to poll download status")
			continue
		}
		if snap == nil {
			log.Debug().Int64("itemID", item.ID).Str("clientID", *item.ClientID).Msg("client has no record of download yet")
			continue
		}

		o.handleSnapshot(ctx, item, snap)
	}
}

// discoverHash reconciles a download whose client id was never returned:
// first by category and save path, then by fuzzy name match against the
// title, finally by most recent addition.
func (o *Orchestrator) discoverHash(ctx context.Context, item *models.QueueItem) {
	listCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
	defer cancel()

	snapshots, err := o.client.List(listCtx)
	if err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to list client downloads for discovery")
		return
	}

	var remotePath string
	if item.TempPath != nil {
		remotePath = strings.TrimRight(o.mapper.ToRemote(*item.TempPath), "/")
	}

	var match *downloadclient.Snapshot
	for i := range snapshots {
		snap := &snapshots[i]
		if snap.Category != o.cfg.ClientCategory {
			continue
		}
		if remotePath != "" && strings.TrimRight(snap.SavePath, "/") == remotePath {
			match = snap
			break
		}
	}
	if match == nil {
		for i := range snapshots {
			snap := &snapshots[i]
			if snap.Category == o.cfg.ClientCategory && fuzzy.MatchNormalizedFold(item.Title, snap.Name) {
				match = snap
				break
			}
		}
	}
	if match == nil {
		for i := range snapshots {
			snap := &snapshots[i]
			if snap.Category != o.cfg.ClientCategory {
				continue
			}
			if match == nil || snap.AddedOn.After(match.AddedOn) {
				match = snap
			}
		}
	}
	if match == nil {
		log.Debug().Int64("itemID", item.ID).Msg("hash discovery found no candidate, skipping progress this pass")
		return
	}

	hash := match.Hash
	if err := o.store.SetClient(ctx, item.ID, o.client.Name(), &hash); err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record discovered hash")
		return
	}
	log.Debug().Int64("itemID", item.ID).Str("hash", hash).Msg("download hash discovered")
}

func (o *Orchestrator) handleSnapshot(ctx context.Context, item *models.QueueItem, snap *downloadclient.Snapshot) {
	switch snap.State {
	case downloadclient.StateError, downloadclient.StateMissing:
		o.recordFailure(ctx, item, pipeline.StatusDownloadFailed, fmt.Sprintf("client reports state %s", snap.State))
		return
	}

	o.reconcileSavePath(ctx, item, snap)

	eta := snap.ETASeconds
	if err := o.store.SetProgress(ctx, item.ID, snap.Progress, &eta); err != nil {
		if errors.Is(err, models.ErrProgressRegression) {
			log.Debug().Int64("itemID", item.ID).Float64("progress", snap.Progress).Msg("ignoring regressing progress report")
		} else {
			log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to write progress")
		}
	} else {
		o.events.Emit(events.DownloadProgress, map[string]any{
			"id":          item.ID,
			"progress":    snap.Progress,
			"speed_bytes": snap.DownloadSpeedBPS,
			"eta_seconds": snap.ETASeconds,
		})
	}

	if snap.Progress >= 100 {
		o.transition(ctx, item.ID, item.Status, pipeline.StatusComplete)
	}
}

// reconcileSavePath pushes a drifted save path back once, then adopts the
// client's path as authoritative.
func (o *Orchestrator) reconcileSavePath(ctx context.Context, item *models.QueueItem, snap *downloadclient.Snapshot) {
	if item.TempPath == nil || snap.SavePath == "" {
		return
	}
	localClientPath := filepath.Clean(o.mapper.ToLocal(snap.SavePath))
	if localClientPath == filepath.Clean(*item.TempPath) {
		return
	}

	if !o.relocated[item.ID] {
		o.relocated[item.ID] = true
		log.Warn().
			Int64("itemID", item.ID).
			Str("expected", *item.TempPath).
			Str("client", localClientPath).
			Msg("download save path drifted, requesting relocation")
		moveCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
		defer cancel()
		if err := o.client.SetLocation(moveCtx, *item.ClientID, o.mapper.ToRemote(*item.TempPath)); err != nil {
			log.Warn().Err(err).Int64("itemID", item.ID).Msg("client refused relocation, adopting its path")
		}
		return
	}

	if err := o.store.SetTempPath(ctx, item.ID, localClientPath); err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to adopt client save path")
	}
}

// ---- catalog pool plumbing ------------------------------------------------

func (o *Orchestrator) onCatalogProgress(itemID int64, downloaded, total int64, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), adapterTimeout)
	defer cancel()

	var percent float64
	if total > 0 {
		percent = float64(downloaded) / float64(total) * 100
		if percent > 100 {
			percent = 100
		}
		if err := o.store.SetProgress(ctx, itemID, percent, nil); err != nil && !errors.Is(err, models.ErrProgressRegression) {
			log.Error().Err(err).Int64("itemID", itemID).Msg("failed to write catalog progress")
			return
		}
	}

	o.events.Emit(events.DownloadProgress, map[string]any{
		"id":       itemID,
		"progress": percent,
		"message":  message,
	})
}

func (o *Orchestrator) drainCatalogOutcomes(ctx context.Context) {
	for {
		select {
		case outcome := <-o.pool.Outcomes():
			o.handleCatalogOutcome(ctx, outcome)
		default:
			return
		}
	}
}

func (o *Orchestrator) handleCatalogOutcome(ctx context.Context, outcome catalog.Outcome) {
	item, err := o.store.Get(ctx, outcome.ItemID)
	if err != nil {
		if errors.Is(err, models.ErrQueueItemNotFound) {
			// Cancelled and deleted while the worker was finishing.
			return
		}
		log.Error().Err(err).Int64("itemID", outcome.ItemID).Msg("failed to load item for catalog outcome")
		return
	}

	switch {
	case outcome.Cancelled:
		if item.Status == pipeline.StatusAudibleDownloading {
			o.finishCancel(ctx, item)
		}
	case outcome.Err != nil:
		o.recordFailure(ctx, item, pipeline.StatusAudibleFailed, outcome.Err.Error())
	default:
		var voucher *string
		if outcome.Result.VoucherPath != "" {
			voucher = &outcome.Result.VoucherPath
		}
		if err := o.store.SetArtifact(ctx, item.ID, string(outcome.Result.Format), voucher); err != nil {
			log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record catalog artifact")
			return
		}
		if err := o.store.SetTempPath(ctx, item.ID, outcome.Result.AudioPath); err != nil {
			log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record catalog artifact path")
			return
		}
		o.transition(ctx, item.ID, item.Status, pipeline.StatusComplete)
	}
}

// ---- stage 3: process_pipeline -------------------------------------------

func (o *Orchestrator) processPipeline(ctx context.Context) {
	now := o.now().UTC()

	// Converting and importing items re-entered via a retry; resume them
	// before fresh completions feed the same stages.
	for _, item := range o.listByStatus(ctx, pipeline.StatusConverting) {
		if !item.RetryEligible(now) {
			continue
		}
		o.resumeConversion(ctx, item)
	}
	for _, item := range o.listByStatus(ctx, pipeline.StatusImporting) {
		if !item.RetryEligible(now) {
			continue
		}
		o.runImport(ctx, item.ID)
	}

	for _, item := range o.listByStatus(ctx, pipeline.StatusComplete) {
		o.advanceComplete(ctx, item)
	}
	for _, item := range o.listByStatus(ctx, pipeline.StatusConverted) {
		if _, ok := o.transition(ctx, item.ID, item.Status, pipeline.StatusImporting); ok {
			o.runImport(ctx, item.ID)
		}
	}
	for _, item := range o.listByStatus(ctx, pipeline.StatusSeeding) {
		o.pollSeeding(ctx, item)
	}
}

func (o *Orchestrator) resumeConversion(ctx context.Context, item *models.QueueItem) {
	if item.TempPath == nil {
		o.recordFailure(ctx, item, pipeline.StatusConversionFailed, "no temp path recorded for converting item")
		return
	}
	artifact, err := conversion.LocateArtifact(*item.TempPath)
	if err != nil {
		o.recordFailure(ctx, item, pipeline.StatusConversionFailed, fmt.Sprintf("failed to locate artifact: %v", err))
		return
	}
	o.runConversion(ctx, item, artifact)
}

func (o *Orchestrator) advanceComplete(ctx context.Context, item *models.QueueItem) {
	if item.TempPath == nil {
		o.recordFailure(ctx, item, pipeline.StatusImportFailed, "no temp path recorded for completed item")
		return
	}

	artifact, err := conversion.LocateArtifact(*item.TempPath)
	if err != nil {
		o.recordFailure(ctx, item, pipeline.StatusImportFailed, fmt.Sprintf("failed to locate artifact: %v", err))
		return
	}

	declared := catalog.Format("")
	if item.Format != nil {
		declared = catalog.Format(*item.Format)
	}
	sourceURL := ""
	if item.SourceURL != nil {
		sourceURL = *item.SourceURL
	}

	if !conversion.Required(artifact, declared, sourceURL) {
		if _, ok := o.transition(ctx, item.ID, item.Status, pipeline.StatusImporting); ok {
			o.runImport(ctx, item.ID)
		}
		return
	}

	moved, ok := o.transition(ctx, item.ID, item.Status, pipeline.StatusConverting)
	if !ok {
		return
	}
	o.runConversion(ctx, moved, artifact)
}

func (o *Orchestrator) runConversion(ctx context.Context, item *models.QueueItem, artifact string) {
	format := conversion.ArtifactFormat(artifact, catalogFormat(item))

	voucherPath := ""
	if item.VoucherPath != nil {
		voucherPath = *item.VoucherPath
	}
	if conversion.VoucherRequired(format) && voucherPath == "" {
		// Not retryable: the voucher will never appear.
		o.recordPermanentFailure(ctx, item, pipeline.StatusConversionFailed, "artifact format requires a voucher and none was produced")
		return
	}

	outputDir := filepath.Join(o.cfg.TempConversionPath, fmt.Sprintf("listenarr-%d", item.ID))
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		o.recordFailure(ctx, item, pipeline.StatusConversionFailed, fmt.Sprintf("failed to create conversion dir: %v", err))
		return
	}
	base := strings.TrimSuffix(filepath.Base(artifact), filepath.Ext(artifact))
	outputPath := filepath.Join(outputDir, base+".m4b")

	err := o.converter.Convert(ctx, conversion.Request{
		InputPath:   artifact,
		OutputPath:  outputPath,
		VoucherPath: voucherPath,
		Format:      format,
	})
	if err != nil {
		if errors.Is(err, conversion.ErrVoucherRequired) {
			o.recordPermanentFailure(ctx, item, pipeline.StatusConversionFailed, err.Error())
			return
		}
		o.recordFailure(ctx, item, pipeline.StatusConversionFailed, fmt.Sprintf("conversion failed: %v", err))
		return
	}

	if err := o.store.SetConvertedPath(ctx, item.ID, outputPath); err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record converted path")
		return
	}
	o.transition(ctx, item.ID, pipeline.StatusConverting, pipeline.StatusConverted)
}

func (o *Orchestrator) runImport(ctx context.Context, itemID int64) {
	item, err := o.store.Get(ctx, itemID)
	if err != nil {
		log.Error().Err(err).Int64("itemID", itemID).Msg("failed to load item for import")
		return
	}

	source := ""
	switch {
	case item.ConvertedPath != nil:
		source = *item.ConvertedPath
	case item.TempPath != nil:
		located, err := conversion.LocateArtifact(*item.TempPath)
		if err != nil {
			o.recordFailure(ctx, item, pipeline.StatusImportFailed, fmt.Sprintf("failed to locate artifact: %v", err))
			return
		}
		source = located
	default:
		o.recordFailure(ctx, item, pipeline.StatusImportFailed, "nothing to import")
		return
	}

	mode := importer.ModeMove
	if item.Kind != pipeline.KindCatalog && o.cfg.SeedingEnabled {
		// The client keeps seeding from the original file.
		mode = importer.ModeCopy
	}

	finalPath, err := o.importer.Import(ctx, importer.Request{
		SourcePath: source,
		Title:      item.Title,
		Author:     item.Author,
		Mode:       mode,
	})
	if err != nil {
		o.recordFailure(ctx, item, pipeline.StatusImportFailed, fmt.Sprintf("import failed: %v", err))
		return
	}

	if err := o.store.SetFinalPath(ctx, item.ID, finalPath); err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record final path")
		return
	}

	imported, ok := o.transition(ctx, item.ID, pipeline.StatusImporting, pipeline.StatusImported)
	if !ok {
		return
	}
	o.events.Emit(events.DownloadCompleted, map[string]any{"id": item.ID})

	if imported.Kind != pipeline.KindCatalog && o.cfg.SeedingEnabled && o.cfg.WaitForSeeding {
		o.transition(ctx, item.ID, pipeline.StatusImported, pipeline.StatusSeeding)
		return
	}
	o.finalize(ctx, imported)
}

// finalize cleans temp state and removes the finished item.
func (o *Orchestrator) finalize(ctx context.Context, item *models.QueueItem) {
	o.cleanupTemp(item)
	delete(o.relocated, item.ID)
	if err := o.store.Delete(ctx, item.ID); err != nil && !errors.Is(err, models.ErrQueueItemNotFound) {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to delete finished item")
		return
	}
	o.events.Emit(events.QueueUpdated, map[string]any{})
}

func (o *Orchestrator) pollSeeding(ctx context.Context, item *models.QueueItem) {
	if item.ClientID == nil {
		// Nothing to watch; treat as complete.
		o.completeSeeding(ctx, item)
		return
	}

	statusCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
	snap, err := o.client.Status(statusCtx, *item.ClientID)
	cancel()
	if err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to poll seeding status")
		return
	}

	if snap != nil {
		if err := o.store.SetSeedingStats(ctx, item.ID, snap.Ratio, snap.SeedingTimeSeconds); err != nil {
			log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record seeding stats")
		}
	}

	if o.seedingComplete(snap) {
		o.completeSeeding(ctx, item)
	}
}

func (o *Orchestrator) seedingComplete(snap *downloadclient.Snapshot) bool {
	if snap == nil {
		// The torrent is gone from the client.
		return true
	}
	switch snap.State {
	case downloadclient.StateError, downloadclient.StateMissing:
		return true
	}
	if o.cfg.SeedRatioLimit > 0 && snap.Ratio >= o.cfg.SeedRatioLimit {
		return true
	}
	if o.cfg.SeedTimeLimitSeconds > 0 && snap.SeedingTimeSeconds >= o.cfg.SeedTimeLimitSeconds {
		return true
	}
	return o.client.IsSeedingComplete(snap)
}

func (o *Orchestrator) completeSeeding(ctx context.Context, item *models.QueueItem) {
	if item.ClientID != nil {
		removeCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
		if err := o.client.Remove(removeCtx, *item.ClientID, o.cfg.DeleteSourceAfterImport); err != nil {
			log.Warn().Err(err).Int64("itemID", item.ID).Msg("failed to remove seeded torrent from client")
		}
		cancel()
	}

	if _, ok := o.transition(ctx, item.ID, item.Status, pipeline.StatusSeedingComplete); !ok {
		return
	}
	o.finalize(ctx, item)
}

// ---- cancellation, pause, resume -----------------------------------------

// Cancel aborts an item wherever it is in the pipeline. Calling it again
// after the item is gone is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, id int64) error {
	item, err := o.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrQueueItemNotFound) {
			return nil
		}
		return err
	}

	switch item.Status {
	case pipeline.StatusImported, pipeline.StatusCancelled, pipeline.StatusSeedingComplete:
		return fmt.Errorf("%w: %s", ErrCancelNotAllowed, item.Status)
	}

	if item.Status == pipeline.StatusAudibleDownloading {
		if o.pool.Cancel(item.ID) {
			// The pool outcome finishes the cancellation after the worker
			// unwinds; partials are cleaned there.
			return nil
		}
	}

	if (item.Status == pipeline.StatusDownloading || item.Status == pipeline.StatusPaused ||
		item.Status == pipeline.StatusSeeding) && item.ClientID != nil {
		removeCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
		if err := o.client.Remove(removeCtx, *item.ClientID, true); err != nil {
			log.Warn().Err(err).Int64("itemID", item.ID).Msg("failed to remove cancelled download from client")
		}
		cancel()
	}

	o.finishCancel(ctx, item)
	return nil
}

func (o *Orchestrator) finishCancel(ctx context.Context, item *models.QueueItem) {
	o.cleanupTemp(item)
	if _, ok := o.transition(ctx, item.ID, item.Status, pipeline.StatusCancelled); !ok {
		return
	}
	o.events.Emit(events.DownloadCancelled, map[string]any{"id": item.ID})
	o.finalize(ctx, item)
}

// Pause stops an in-flight torrent download.
func (o *Orchestrator) Pause(ctx context.Context, id int64) error {
	item, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != pipeline.StatusDownloading || item.ClientID == nil {
		return fmt.Errorf("item %d is not pausable in state %s", id, item.Status)
	}

	pauseCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
	defer cancel()
	if err := o.client.Pause(pauseCtx, *item.ClientID); err != nil {
		return err
	}
	if _, ok := o.transition(ctx, id, item.Status, pipeline.StatusPaused); ok {
		o.events.Emit(events.DownloadPaused, map[string]any{"id": id})
	}
	return nil
}

// Resume restarts a paused torrent download.
func (o *Orchestrator) Resume(ctx context.Context, id int64) error {
	item, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != pipeline.StatusPaused || item.ClientID == nil {
		return fmt.Errorf("item %d is not resumable in state %s", id, item.Status)
	}

	resumeCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
	defer cancel()
	if err := o.client.Resume(resumeCtx, *item.ClientID); err != nil {
		return err
	}
	if _, ok := o.transition(ctx, id, item.Status, pipeline.StatusDownloading); ok {
		o.events.Emit(events.DownloadResumed, map[string]any{"id": id})
	}
	return nil
}

// Retry is the administrative retry for an item parked in a failure state.
func (o *Orchestrator) Retry(ctx context.Context, id int64) error {
	item, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	target, ok := pipeline.RetryTarget(item.Status)
	if !ok {
		return fmt.Errorf("item %d is not in a retryable failure state (%s)", id, item.Status)
	}
	if _, err := o.store.ResetForRetry(ctx, id, target); err != nil {
		return err
	}
	o.events.Emit(events.StateChanged, map[string]any{"id": id, "old": string(item.Status), "new": string(target)})
	o.events.Emit(events.QueueUpdated, map[string]any{})
	return nil
}

// ---- shared helpers -------------------------------------------------------

func (o *Orchestrator) transition(ctx context.Context, id int64, from, to pipeline.Status) (*models.QueueItem, bool) {
	item, err := o.store.Transition(ctx, id, to)
	if err != nil {
		log.Error().Err(err).Int64("itemID", id).Str("to", string(to)).Msg("state transition rejected")
		return nil, false
	}
	o.events.Emit(events.StateChanged, map[string]any{"id": id, "old": string(from), "new": string(to)})
	return item, true
}

func (o *Orchestrator) recordFailure(ctx context.Context, item *models.QueueItem, kind pipeline.FailureKind, message string) {
	decision := o.retry.Decide(kind, item.RetryCount)
	o.applyFailure(ctx, item, kind, message, decision)
}

func (o *Orchestrator) recordPermanentFailure(ctx context.Context, item *models.QueueItem, kind pipeline.FailureKind, message string) {
	o.applyFailure(ctx, item, kind, message, pipeline.Decision{Permanent: true})
}

func (o *Orchestrator) applyFailure(ctx context.Context, item *models.QueueItem, kind pipeline.FailureKind, message string, decision pipeline.Decision) {
	log.Warn().
		Int64("itemID", item.ID).
		Str("kind", string(kind)).
		Int("retryCount", item.RetryCount).
		Bool("permanent", decision.Permanent).
		Str("reason", message).
		Msg("stage failure")

	updated, err := o.store.RecordFailure(ctx, item.ID, kind, message, decision)
	if err != nil {
		log.Error().Err(err).Int64("itemID", item.ID).Msg("failed to record failure")
		return
	}

	o.events.Emit(events.StateChanged, map[string]any{"id": item.ID, "old": string(item.Status), "new": string(kind)})
	if !decision.Permanent {
		o.events.Emit(events.StateChanged, map[string]any{"id": item.ID, "old": string(kind), "new": string(updated.Status)})
	}
	o.events.Emit(events.DownloadFailed, map[string]any{"id": item.ID, "error": message})
}

func (o *Orchestrator) tempDirFor(id int64) string {
	return filepath.Join(o.cfg.TempDownloadPath, fmt.Sprintf("listenarr-%d", id))
}

func (o *Orchestrator) cleanupTemp(item *models.QueueItem) {
	paths := []string{
		o.tempDirFor(item.ID),
		filepath.Join(o.cfg.TempConversionPath, fmt.Sprintf("listenarr-%d", item.ID)),
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			log.Warn().Err(err).Int64("itemID", item.ID).Str("path", p).Msg("failed to remove temp path")
		}
	}
}

// cleanupOrphans removes temp directories left behind by items that no
// longer exist, once at startup.
func (o *Orchestrator) cleanupOrphans(ctx context.Context) {
	for _, root := range []string{o.cfg.TempDownloadPath, o.cfg.TempConversionPath} {
		if root == "" {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			var id int64
			if _, err := fmt.Sscanf(entry.Name(), "listenarr-%d", &id); err != nil {
				continue
			}
			if _, err := o.store.Get(ctx, id); err == nil {
				continue
			} else if !errors.Is(err, models.ErrQueueItemNotFound) {
				continue
			}
			orphan := filepath.Join(root, entry.Name())
			log.Info().Str("path", orphan).Msg("removing orphaned temp directory")
			if err := os.RemoveAll(orphan); err != nil {
				log.Warn().Err(err).Str("path", orphan).Msg("failed to remove orphaned temp directory")
			}
		}
	}
}
