// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
tempDownloadPath = "/tmp/listenarr"
libraryPath = "/library"
`

func TestNewLoadsFile(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
port = 8686
logLevel = "DEBUG"
maxConcurrentDownloads = 4

[qbittorrent]
host = "http://qbit:8080"
username = "admin"
category = "audiobooks"
`)

	c, err := New(path, "1.2.3")
	require.NoError(t, err)

	cfg := c.Get()
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, 8686, cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 4, cfg.MaxConcurrentDownloads)
	assert.Equal(t, "http://qbit:8080", cfg.QBittorrent.Host)
	assert.Equal(t, "audiobooks", cfg.QBittorrent.Category)
	// Unset keys keep their defaults.
	assert.Equal(t, 85, cfg.MinSearchConfidence)
	assert.Equal(t, "/tmp/listenarr", cfg.TempConversionPath)
}

func TestNewMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("LISTENARR__TEMP_DOWNLOAD_PATH", "/tmp/listenarr")
	t.Setenv("LISTENARR__LIBRARY_PATH", "/library")

	c, err := New(filepath.Join(t.TempDir(), "absent.toml"), "dev")
	require.NoError(t, err)

	cfg := c.Get()
	assert.Equal(t, 7575, cfg.Port)
	assert.Equal(t, "/library", cfg.LibraryPath)
}

func TestNewEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("LISTENARR__PORT", "9999")

	path := writeConfig(t, minimalConfig+"port = 8686\n")
	c, err := New(path, "dev")
	require.NoError(t, err)
	assert.Equal(t, 9999, c.Get().Port)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, minimalConfig+"catalogConcurrency = 9\n")
	_, err := New(path, "dev")
	assert.Error(t, err)
}

func TestNewRejectsMissingRequiredPaths(t *testing.T) {
	path := writeConfig(t, `port = 8686`)
	_, err := New(path, "dev")
	assert.Error(t, err)
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeConfig(t, minimalConfig+"minSearchConfidence = 85\n")

	c, err := New(path, "dev")
	require.NoError(t, err)
	require.Equal(t, 85, c.Get().MinSearchConfidence)

	require.NoError(t, os.WriteFile(path, []byte(minimalConfig+"minSearchConfidence = 90\n"), 0o644))
	require.NoError(t, c.Reload())
	assert.Equal(t, 90, c.Get().MinSearchConfidence)
	// The version survives reloads.
	assert.Equal(t, "dev", c.Get().Version)
}

func TestSessionFor(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[directProviderSessions."tracker.example.com"]
baseUrl = "https://tracker.example.com"
cookie = "session=abc123"
`)

	c, err := New(path, "dev")
	require.NoError(t, err)

	session, ok := c.SessionFor("tracker.example.com")
	require.True(t, ok)
	assert.Equal(t, "session=abc123", session.Cookie)
	assert.Equal(t, "https://tracker.example.com", session.BaseURL)

	_, ok = c.SessionFor("unknown.example.com")
	assert.False(t, ok)
}
