// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/listenarr/listenarr/internal/models"
	"github.com/listenarr/listenarr/internal/pipeline"
)

const collectTimeout = 10 * time.Second

// QueueCollector exposes queue statistics as prometheus metrics. Counts are
// read from the store on every scrape; nothing is cached.
type QueueCollector struct {
	store *models.QueueStore

	itemsDesc       *prometheus.Desc
	downloadingDesc *prometheus.Desc
	failedDesc      *prometheus.Desc
}

func NewQueueCollector(store *models.QueueStore) *QueueCollector {
	return &QueueCollector{
		store: store,

		itemsDesc: prometheus.NewDesc(
			"listenarr_queue_items",
			"Number of queue items by status",
			[]string{"status"},
			nil,
		),
		downloadingDesc: prometheus.NewDesc(
			"listenarr_queue_downloading",
			"Number of items currently downloading (torrent and catalog)",
			nil,
			nil,
		),
		failedDesc: prometheus.NewDesc(
			"listenarr_queue_failed",
			"Number of items resting in a failure state",
			nil,
			nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.itemsDesc
	ch <- c.downloadingDesc
	ch <- c.failedDesc
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	stats, err := c.store.Statistics(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to collect queue statistics")
		return
	}

	downloading := 0
	failed := 0
	for status, count := range stats {
		ch <- prometheus.MustNewConstMetric(c.itemsDesc, prometheus.GaugeValue, float64(count), string(status))
		if pipeline.IsDownloading(status) {
			downloading += count
		}
		if pipeline.IsFailure(status) {
			failed += count
		}
	}
	ch <- prometheus.MustNewConstMetric(c.downloadingDesc, prometheus.GaugeValue, float64(downloading))
	ch <- prometheus.MustNewConstMetric(c.failedDesc, prometheus.GaugeValue, float64(failed))
}
