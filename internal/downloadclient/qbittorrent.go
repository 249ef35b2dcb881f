// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const clientTimeout = 30 * time.Second

// stoppedOptionMinVersion is the WebAPI version that replaced the "paused"
// add option with "stopped".
var stoppedOptionMinVersion = semver.MustParse("2.11.0")

// QBittorrent adapts a qBittorrent instance to the Adapter contract.
type QBittorrent struct {
	client        *qbt.Client
	name          string
	webAPIVersion string
	useStopped    bool
}

// QBittorrentConfig carries connection settings for one qBittorrent instance.
type QBittorrentConfig struct {
	Name     string
	Host     string
	Username string
	Password string
}

// NewQBittorrent connects and logs in to a qBittorrent instance.
func NewQBittorrent(ctx context.Context, cfg QBittorrentConfig) (*QBittorrent, error) {
	client := qbt.NewClient(qbt.Config{
		Host:     cfg.Host,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  int(clientTimeout / time.Second),
	})

	loginCtx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()
	if err := client.LoginCtx(loginCtx); err != nil {
		return nil, errors.Wrap(err, "failed to connect to qBittorrent instance")
	}

	webAPIVersion, err := client.GetWebAPIVersionCtx(loginCtx)
	if err != nil {
		webAPIVersion = ""
	}

	useStopped := false
	if webAPIVersion != "" {
		if v, err := semver.NewVersion(webAPIVersion); err == nil {
			useStopped = !v.LessThan(stoppedOptionMinVersion)
		}
	}

	name := cfg.Name
	if name == "" {
		name = "qbittorrent"
	}

	log.Debug().
		Str("client", name).
		Str("host", cfg.Host).
		Str("webAPIVersion", webAPIVersion).
		Bool("useStopped", useStopped).
		Msg("qBittorrent client created")

	return &QBittorrent{
		client:        client,
		name:          name,
		webAPIVersion: webAPIVersion,
		useStopped:    useStopped,
	}, nil
}

func (q *QBittorrent) Name() string {
	return q.name
}

func (q *QBittorrent) addOptions(req AddRequest) map[string]string {
	opts := &qbt.TorrentAddOptions{
		SavePath: req.SavePath,
		Category: req.Category,
	}
	if req.Paused {
		if q.useStopped {
			opts.Stopped = true
		} else {
			opts.Paused = true
		}
	}
	return opts.Prepare()
}

func (q *QBittorrent) Add(ctx context.Context, req AddRequest) (string, error) {
	options := q.addOptions(req)

	if req.MagnetURI != "" {
		if err := q.client.AddTorrentFromUrlCtx(ctx, req.MagnetURI, options); err != nil {
			return "", errors.Wrap(err, "failed to add magnet")
		}
		// Magnet hashes are recoverable from the URI itself when present;
		// otherwise the caller reconciles via List.
		if hash := hashFromMagnet(req.MagnetURI); hash != "" {
			return hash, nil
		}
		return req.ExpectedHash, nil
	}

	if err := q.client.AddTorrentFromMemoryCtx(ctx, req.TorrentBytes, options); err != nil {
		return "", errors.Wrap(err, "failed to add torrent")
	}

	if req.ExpectedHash != "" {
		return req.ExpectedHash, nil
	}
	if hash, err := InfoHash(req.TorrentBytes); err == nil {
		return hash, nil
	}
	return "", nil
}

func (q *QBittorrent) Status(ctx context.Context, id string) (*Snapshot, error) {
	torrents, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{id}})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get torrent status")
	}
	if len(torrents) == 0 {
		return nil, nil
	}
	snap := snapshotFromTorrent(torrents[0])
	return &snap, nil
}

func (q *QBittorrent) List(ctx context.Context) ([]Snapshot, error) {
	torrents, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list torrents")
	}
	snapshots := make([]Snapshot, 0, len(torrents))
	for _, t := range torrents {
		snapshots = append(snapshots, snapshotFromTorrent(t))
	}
	return snapshots, nil
}

func (q *QBittorrent) Pause(ctx context.Context, id string) error {
	return errors.Wrap(q.client.PauseCtx(ctx, []string{id}), "failed to pause torrent")
}

func (q *QBittorrent) Resume(ctx context.Context, id string) error {
	return errors.Wrap(q.client.ResumeCtx(ctx, []string{id}), "failed to resume torrent")
}

func (q *QBittorrent) Remove(ctx context.Context, id string, deleteFiles bool) error {
	return errors.Wrap(q.client.DeleteTorrentsCtx(ctx, []string{id}, deleteFiles), "failed to remove torrent")
}

func (q *QBittorrent) SetLocation(ctx context.Context, id, savePath string) error {
	return errors.Wrap(q.client.SetLocationCtx(ctx, []string{id}, savePath), "failed to set torrent location")
}

// IsSeedingComplete reports share-goal completion the way qBittorrent does:
// the client parks a torrent in a stopped/paused upload state once its
// configured limits are met, and per-torrent limits are visible on the
// snapshot.
func (q *QBittorrent) IsSeedingComplete(snap *Snapshot) bool {
	if snap == nil {
		return false
	}
	if snap.SeedRatioLimit != nil && *snap.SeedRatioLimit > 0 && snap.Ratio >= *snap.SeedRatioLimit {
		return true
	}
	if snap.SeedTimeLimitSeconds != nil && *snap.SeedTimeLimitSeconds > 0 && snap.SeedingTimeSeconds >= *snap.SeedTimeLimitSeconds {
		return true
	}
	return false
}

func snapshotFromTorrent(t qbt.Torrent) Snapshot {
	snap := Snapshot{
		Hash:               t.Hash,
		Name:               t.Name,
		State:              mapTorrentState(t.State),
		Progress:           t.Progress * 100,
		DownloadSpeedBPS:   t.DlSpeed,
		ETASeconds:         t.ETA,
		SavePath:           t.SavePath,
		Category:           t.Category,
		Ratio:              t.Ratio,
		SeedingTimeSeconds: t.SeedingTime,
		AddedOn:            time.Unix(t.AddedOn, 0),
	}
	if t.MaxRatio > 0 {
		limit := t.MaxRatio
		snap.SeedRatioLimit = &limit
	}
	if t.MaxSeedingTime > 0 {
		// qBittorrent reports seeding time limits in minutes.
		limit := t.MaxSeedingTime * 60
		snap.SeedTimeLimitSeconds = &limit
	}
	return snap
}

func mapTorrentState(state qbt.TorrentState) State {
	switch state {
	case qbt.TorrentStateError:
		return StateError
	case qbt.TorrentStateMissingFiles:
		return StateMissing
	case qbt.TorrentStateDownloading, qbt.TorrentStateMetaDl, qbt.TorrentStateForcedDl,
		qbt.TorrentStateCheckingDl, qbt.TorrentStateAllocating, qbt.TorrentStateCheckingResumeData:
		return StateDownloading
	case qbt.TorrentStateStalledDl:
		return StateStalled
	case qbt.TorrentStateUploading, qbt.TorrentStateStalledUp, qbt.TorrentStateForcedUp,
		qbt.TorrentStateCheckingUp, qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedUp,
		qbt.TorrentStateQueuedUp:
		return StateUploading
	case qbt.TorrentStateQueuedDl, qbt.TorrentStatePausedDl, qbt.TorrentStateStoppedDl,
		qbt.TorrentStateMoving:
		return StateQueued
	default:
		return StateQueued
	}
}
