// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package events carries queue and download lifecycle events from the
// orchestrator to subscribers. The orchestrator only knows the Sink
// interface; deployments pick the backend.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Event names emitted by the orchestrator.
const (
	QueueItemAdded     = "queue:item_added"
	QueueUpdated       = "queue:updated"
	StateChanged       = "state:changed"
	DownloadStarted    = "download:started"
	DownloadProgress   = "download:progress"
	DownloadCompleted  = "download:completed"
	DownloadFailed     = "download:failed"
	DownloadCancelled  = "download:cancelled"
	DownloadPaused     = "download:paused"
	DownloadResumed    = "download:resumed"
)

// Event is a named payload.
type Event struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// Sink receives events from the orchestrator.
type Sink interface {
	Emit(name string, payload map[string]any)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(string, map[string]any) {}

// Bus is a fan-out Sink backed by per-subscriber buffered channels. Slow
// subscribers drop events rather than blocking the monitor loop.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	buffer int
	closed bool
}

// NewBus creates a Bus with the given per-subscriber buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

// Emit delivers the event to every subscriber without blocking.
func (b *Bus) Emit(name string, payload map[string]any) {
	ev := Event{Name: name, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("event", name).Int("subscriber", id).Msg("event dropped for slow subscriber")
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close tears down all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
