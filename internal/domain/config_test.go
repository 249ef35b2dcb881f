// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.TempDownloadPath = "/tmp/downloads"
	cfg.LibraryPath = "/library"
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Second, cfg.PollingInterval())
	assert.Equal(t, 10*time.Second, cfg.RetryBackoff())
	// Conversion temp path falls back to the download temp path.
	assert.Equal(t, "/tmp/downloads", cfg.TempConversionPath)
}

func TestValidateClampsSoftMinimums(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PollingIntervalSeconds = 0
	cfg.MaxActiveSearches = -1
	cfg.MaxConcurrentDownloads = 0
	cfg.CatalogConcurrency = 0
	cfg.RetryBackoffSeconds = 3

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.PollingIntervalSeconds)
	assert.Equal(t, 1, cfg.MaxActiveSearches)
	assert.Equal(t, 1, cfg.MaxConcurrentDownloads)
	assert.Equal(t, 1, cfg.CatalogConcurrency)
	assert.Equal(t, 10, cfg.RetryBackoffSeconds)
}

func TestValidateRejectsExcessiveCatalogConcurrency(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.CatalogConcurrency = 9
	assert.Error(t, cfg.Validate())

	cfg.CatalogConcurrency = 8
	assert.NoError(t, cfg.Validate())
}

func TestValidateConfidenceRange(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.MinSearchConfidence = 101
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.MinSearchConfidence = -1
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.MinSearchConfidence = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNegativeRetryBudget(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.RetryBudgets = map[string]int{"download_failed": -1}
	assert.Error(t, cfg.Validate())

	cfg.RetryBudgets = map[string]int{"download_failed": 0}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiredPaths(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.TempDownloadPath = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.LibraryPath = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateKeepsExplicitConversionPath(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.TempConversionPath = "/tmp/convert"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/tmp/convert", cfg.TempConversionPath)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	assert.Equal(t, 7575, cfg.Port)
	assert.Equal(t, 85, cfg.MinSearchConfidence)
	assert.Equal(t, 2.0, cfg.SeedRatioLimit)
	assert.Equal(t, int64(604800), cfg.SeedTimeLimitSeconds)
	assert.True(t, cfg.KeepTorrentActive)
	assert.True(t, cfg.WaitForSeeding)
	assert.False(t, cfg.SeedingEnabled)
}
