// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const heartbeatInterval = 15 * time.Second

// SSEHandler streams bus events to HTTP subscribers as server-sent events.
// It is the deployment-facing backend for UI progress updates; the
// orchestrator itself never touches HTTP.
type SSEHandler struct {
	bus *Bus
}

// NewSSEHandler creates an SSEHandler over the given bus.
func NewSSEHandler(bus *Bus) *SSEHandler {
	return &SSEHandler{bus: bus}
}

// Routes mounts the event stream endpoint.
func (h *SSEHandler) Routes(r chi.Router) {
	r.Get("/events", h.stream)
}

func (h *SSEHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.bus.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				log.Warn().Err(err).Str("event", ev.Name).Msg("failed to marshal event payload")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
			flusher.Flush()
		}
	}
}
