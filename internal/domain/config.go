// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package domain holds the typed application configuration.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// PathMapping pairs a download-client path prefix with the local prefix the
// orchestrator sees for the same storage.
type PathMapping struct {
	Remote string `toml:"remote" mapstructure:"remote"`
	Local  string `toml:"local" mapstructure:"local"`
}

// ProviderSession is a stored session for a direct provider that requires a
// cookie to serve torrent files.
type ProviderSession struct {
	BaseURL string `toml:"baseUrl" mapstructure:"baseUrl"`
	Cookie  string `toml:"cookie" mapstructure:"cookie"`
}

// QBittorrentConfig carries connection settings for the external download
// client.
type QBittorrentConfig struct {
	Name     string `toml:"name" mapstructure:"name"`
	Host     string `toml:"host" mapstructure:"host"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	Category string `toml:"category" mapstructure:"category"`
}

// ProgramConfig configures an external helper program (the transcoder and
// the catalog downloader).
type ProgramConfig struct {
	Path           string `toml:"path" mapstructure:"path"`
	ArgsTemplate   string `toml:"argsTemplate" mapstructure:"argsTemplate"`
	TimeoutMinutes int    `toml:"timeoutMinutes" mapstructure:"timeoutMinutes"`
}

// Config represents the application configuration.
type Config struct {
	Version string

	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	MetricsEnabled bool `toml:"metricsEnabled" mapstructure:"metricsEnabled"`

	PollingIntervalSeconds int `toml:"pollingIntervalSeconds" mapstructure:"pollingIntervalSeconds"`
	MaxActiveSearches      int `toml:"maxActiveSearches" mapstructure:"maxActiveSearches"`
	MaxConcurrentDownloads int `toml:"maxConcurrentDownloads" mapstructure:"maxConcurrentDownloads"`
	CatalogConcurrency     int `toml:"catalogConcurrency" mapstructure:"catalogConcurrency"`
	RetryBackoffSeconds    int `toml:"retryBackoffSeconds" mapstructure:"retryBackoffSeconds"`

	// RetryBudgets overrides per-failure-kind retry budgets. Keys are failure
	// status names (for example "download_failed").
	RetryBudgets map[string]int `toml:"retryBudgets" mapstructure:"retryBudgets"`

	MinSearchConfidence int `toml:"minSearchConfidence" mapstructure:"minSearchConfidence"`

	SeedingEnabled          bool    `toml:"seedingEnabled" mapstructure:"seedingEnabled"`
	SeedRatioLimit          float64 `toml:"seedRatioLimit" mapstructure:"seedRatioLimit"`
	SeedTimeLimitSeconds    int64   `toml:"seedTimeLimitSeconds" mapstructure:"seedTimeLimitSeconds"`
	DeleteSourceAfterImport bool    `toml:"deleteSourceAfterImport" mapstructure:"deleteSourceAfterImport"`
	KeepTorrentActive       bool    `toml:"keepTorrentActive" mapstructure:"keepTorrentActive"`
	WaitForSeeding          bool    `toml:"waitForSeedingCompletion" mapstructure:"waitForSeedingCompletion"`

	TempDownloadPath   string `toml:"tempDownloadPath" mapstructure:"tempDownloadPath"`
	TempConversionPath string `toml:"tempConversionPath" mapstructure:"tempConversionPath"`
	LibraryPath        string `toml:"libraryPath" mapstructure:"libraryPath"`
	NamingTemplate     string `toml:"namingTemplate" mapstructure:"namingTemplate"`

	ExternalBaseURLOverride string `toml:"externalBaseUrlOverride" mapstructure:"externalBaseUrlOverride"`

	TorrentClientPathMappings []PathMapping              `toml:"torrentClientPathMappings" mapstructure:"torrentClientPathMappings"`
	DirectProviderSessions    map[string]ProviderSession `toml:"directProviderSessions" mapstructure:"directProviderSessions"`

	QBittorrent       QBittorrentConfig `toml:"qbittorrent" mapstructure:"qbittorrent"`
	Converter         ProgramConfig     `toml:"converter" mapstructure:"converter"`
	CatalogDownloader ProgramConfig     `toml:"catalogDownloader" mapstructure:"catalogDownloader"`

	SearchURL string `toml:"searchUrl" mapstructure:"searchUrl"`
}

// Defaults returns a Config with the documented default values filled in.
func Defaults() Config {
	return Config{
		Host:                   "127.0.0.1",
		Port:                   7575,
		LogLevel:               "INFO",
		LogMaxSize:             50,
		LogMaxBackups:          3,
		PollingIntervalSeconds: 2,
		MaxActiveSearches:      2,
		MaxConcurrentDownloads: 2,
		CatalogConcurrency:     1,
		RetryBackoffSeconds:    10,
		MinSearchConfidence:    85,
		SeedRatioLimit:         2.0,
		SeedTimeLimitSeconds:   604800,
		KeepTorrentActive:      true,
		WaitForSeeding:         true,
	}
}

// PollingInterval returns the loop interval as a duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalSeconds) * time.Second
}

// RetryBackoff returns the download retry backoff as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// Validate checks range constraints and clamps soft minimums.
func (c *Config) Validate() error {
	if c.PollingIntervalSeconds < 1 {
		c.PollingIntervalSeconds = 1
	}
	if c.MaxActiveSearches < 1 {
		c.MaxActiveSearches = 1
	}
	if c.MaxConcurrentDownloads < 1 {
		c.MaxConcurrentDownloads = 1
	}
	if c.CatalogConcurrency < 1 {
		c.CatalogConcurrency = 1
	}
	if c.CatalogConcurrency > 8 {
		return fmt.Errorf("catalogConcurrency %d exceeds maximum of 8", c.CatalogConcurrency)
	}
	if c.RetryBackoffSeconds < 10 {
		c.RetryBackoffSeconds = 10
	}
	if c.MinSearchConfidence < 0 || c.MinSearchConfidence > 100 {
		return fmt.Errorf("minSearchConfidence %d out of range [0, 100]", c.MinSearchConfidence)
	}
	for kind, budget := range c.RetryBudgets {
		if budget < 0 {
			return fmt.Errorf("retryBudgets[%s] cannot be negative", kind)
		}
	}
	if c.TempDownloadPath == "" {
		return errors.New("tempDownloadPath is required")
	}
	if c.LibraryPath == "" {
		return errors.New("libraryPath is required")
	}
	if c.TempConversionPath == "" {
		c.TempConversionPath = c.TempDownloadPath
	}
	return nil
}
