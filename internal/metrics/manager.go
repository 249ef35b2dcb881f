// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes queue statistics through a dedicated prometheus
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/listenarr/listenarr/internal/models"
)

type Manager struct {
	registry       *prometheus.Registry
	queueCollector *QueueCollector
}

func NewManager(store *models.QueueStore) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	queueCollector := NewQueueCollector(store)
	registry.MustRegister(queueCollector)

	log.Info().Msg("metrics manager initialized with queue collector")

	return &Manager{
		registry:       registry,
		queueCollector: queueCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler returns the scrape endpoint handler.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
