// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"queued to searching", StatusQueued, StatusSearching, true},
		{"queued to found (pre-selected source)", StatusQueued, StatusFound, true},
		{"queued to audible downloading", StatusQueued, StatusAudibleDownloading, true},
		{"queued straight to downloading", StatusQueued, StatusDownloading, false},
		{"searching to found", StatusSearching, StatusFound, true},
		{"searching to search failed", StatusSearching, StatusSearchFailed, true},
		{"found to downloading", StatusFound, StatusDownloading, true},
		{"found to download failed (dispatch error)", StatusFound, StatusDownloadFailed, true},
		{"found to search failed (unusable source)", StatusFound, StatusSearchFailed, true},
		{"found to complete", StatusFound, StatusComplete, false},
		{"queued to audible failed (dispatch error)", StatusQueued, StatusAudibleFailed, true},
		{"complete to import failed (missing artifact)", StatusComplete, StatusImportFailed, true},
		{"downloading to paused", StatusDownloading, StatusPaused, true},
		{"paused to downloading", StatusPaused, StatusDownloading, true},
		{"paused to complete", StatusPaused, StatusComplete, false},
		{"complete to converting", StatusComplete, StatusConverting, true},
		{"complete to importing skips conversion", StatusComplete, StatusImporting, true},
		{"converted to importing", StatusConverted, StatusImporting, true},
		{"importing to imported", StatusImporting, StatusImported, true},
		{"imported to seeding", StatusImported, StatusSeeding, true},
		{"imported to cancelled", StatusImported, StatusCancelled, false},
		{"seeding to seeding complete", StatusSeeding, StatusSeedingComplete, true},
		{"search failed retry", StatusSearchFailed, StatusSearching, true},
		{"download failed retry", StatusDownloadFailed, StatusFound, true},
		{"audible failed retry to queued", StatusAudibleFailed, StatusQueued, true},
		{"conversion failed retry", StatusConversionFailed, StatusConverting, true},
		{"import failed retry", StatusImportFailed, StatusImporting, true},
		{"seeding complete is a sink", StatusSeedingComplete, StatusQueued, false},
		{"cancelled is a sink", StatusCancelled, StatusQueued, false},
		{"unknown status", Status("bogus"), StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestEveryStateCanReachCancelledExceptSinks(t *testing.T) {
	t.Parallel()

	cancellable := []Status{
		StatusQueued, StatusSearching, StatusFound, StatusDownloading,
		StatusAudibleDownloading, StatusPaused, StatusComplete,
		StatusConverting, StatusConverted, StatusImporting, StatusSeeding,
		StatusSearchFailed, StatusDownloadFailed, StatusAudibleFailed,
		StatusConversionFailed, StatusImportFailed,
	}
	for _, from := range cancellable {
		assert.True(t, CanTransition(from, StatusCancelled), "expected %s -> cancelled", from)
	}

	for _, sink := range []Status{StatusImported, StatusSeedingComplete, StatusCancelled} {
		assert.False(t, CanTransition(sink, StatusCancelled), "expected no %s -> cancelled", sink)
	}
}

func TestTransitionStamps(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("entering downloading stamps started_at", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusFound, StatusDownloading, now)
		require.NotNil(t, s.StartedAt)
		assert.Equal(t, now, *s.StartedAt)
		assert.Nil(t, s.CompletedAt)
	})

	t.Run("entering audible downloading stamps started_at", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusQueued, StatusAudibleDownloading, now)
		require.NotNil(t, s.StartedAt)
	})

	t.Run("resume from pause does not restamp started_at", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusPaused, StatusDownloading, now)
		assert.Nil(t, s.StartedAt)
	})

	t.Run("complete stamps completed_at", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusDownloading, StatusComplete, now)
		require.NotNil(t, s.CompletedAt)
		assert.Equal(t, now, *s.CompletedAt)
	})

	t.Run("imported stamps completed_at", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusImporting, StatusImported, now)
		require.NotNil(t, s.CompletedAt)
	})

	t.Run("retry back to found resets progress", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusDownloadFailed, StatusFound, now)
		assert.True(t, s.ResetProgress)
	})

	t.Run("retry back to queued resets progress", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusAudibleFailed, StatusQueued, now)
		assert.True(t, s.ResetProgress)
	})

	t.Run("search success clears the retry count", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusSearching, StatusFound, now)
		assert.True(t, s.ResetRetry)
	})

	t.Run("download completion clears the retry count", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusDownloading, StatusComplete, now)
		assert.True(t, s.ResetRetry)
	})

	t.Run("retry re-entry keeps the retry count", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusDownloadFailed, StatusFound, now)
		assert.False(t, s.ResetRetry)
	})

	t.Run("dispatch into a stage keeps the retry count", func(t *testing.T) {
		t.Parallel()
		s := TransitionStamps(StatusFound, StatusDownloading, now)
		assert.False(t, s.ResetRetry)
	})
}

func TestResetsRetryCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		from  Status
		to    Status
		reset bool
	}{
		{"search succeeds", StatusSearching, StatusFound, true},
		{"pre-selected source", StatusQueued, StatusFound, true},
		{"torrent download succeeds", StatusDownloading, StatusComplete, true},
		{"catalog download succeeds", StatusAudibleDownloading, StatusComplete, true},
		{"conversion succeeds", StatusConverting, StatusConverted, true},
		{"import succeeds", StatusImporting, StatusImported, true},
		{"download retry re-enters found", StatusDownloadFailed, StatusFound, false},
		{"audible retry re-enters queued", StatusAudibleFailed, StatusQueued, false},
		{"conversion retry re-enters converting", StatusConversionFailed, StatusConverting, false},
		{"re-dispatch after download retry", StatusFound, StatusDownloading, false},
		{"re-dispatch after audible retry", StatusQueued, StatusAudibleDownloading, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.reset, ResetsRetryCount(tt.from, tt.to))
		})
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDownloading(StatusDownloading))
	assert.True(t, IsDownloading(StatusAudibleDownloading))
	assert.False(t, IsDownloading(StatusPaused))

	assert.True(t, IsFailure(StatusDownloadFailed))
	assert.False(t, IsFailure(StatusCancelled))

	assert.True(t, IsTerminal(StatusImported))
	assert.True(t, IsTerminal(StatusSeedingComplete))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.True(t, IsTerminal(StatusSearchFailed))
	assert.False(t, IsTerminal(StatusSeeding))
}
