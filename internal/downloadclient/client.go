// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloadclient defines the external download client contract and
// its qBittorrent implementation. The orchestrator sees only the Adapter
// interface and value snapshots; it never holds client protocol state.
package downloadclient

import (
	"context"
	"time"
)

// State is the coarse download state reported by a client.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateUploading   State = "uploading"
	StateStalled     State = "stalled"
	StateError       State = "error"
	StateMissing     State = "missing"
)

// Snapshot is a point-in-time view of one client-side download. Paths are in
// the client's filesystem view; callers map them local before touching disk.
type Snapshot struct {
	Hash                 string    `json:"hash"`
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	Progress             float64   `json:"progress"`
	DownloadSpeedBPS     int64     `json:"download_speed_bps"`
	ETASeconds           int64     `json:"eta_seconds"`
	SavePath             string    `json:"save_path"`
	Category             string    `json:"category"`
	Ratio                float64   `json:"ratio"`
	SeedingTimeSeconds   int64     `json:"seeding_time_seconds"`
	SeedRatioLimit       *float64  `json:"seed_ratio_limit,omitempty"`
	SeedTimeLimitSeconds *int64    `json:"seed_time_limit_seconds,omitempty"`
	AddedOn              time.Time `json:"added_on"`
}

// AddRequest submits a new download. Exactly one of TorrentBytes and
// MagnetURI is set. SavePath is the client's (remote) view.
type AddRequest struct {
	TorrentBytes []byte
	MagnetURI    string
	SavePath     string
	Category     string
	Paused       bool
	ExpectedHash string
}

// Adapter is the capability set the orchestrator needs from an external
// download client.
type Adapter interface {
	// Name identifies the client for queue bookkeeping.
	Name() string
	// Add submits a download and returns the client-assigned id (the info
	// hash for torrent clients). An empty id with a nil error means the
	// client accepted the submission but deferred id assignment; the caller
	// reconciles through List.
	Add(ctx context.Context, req AddRequest) (string, error)
	// Status returns the snapshot for an id, or nil when the client has no
	// record of it.
	Status(ctx context.Context, id string) (*Snapshot, error)
	// List returns snapshots for every download the client knows about.
	List(ctx context.Context) ([]Snapshot, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Remove(ctx context.Context, id string, deleteFiles bool) error
	// SetLocation asks the client to move a download. Best effort; clients
	// may refuse.
	SetLocation(ctx context.Context, id, savePath string) error
	// IsSeedingComplete applies the client-specific heuristic for "this
	// torrent has met its share goals".
	IsSeedingComplete(snap *Snapshot) bool
}
