// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the TOML configuration file with environment
// overrides and keeps it fresh: the file is watched so direct-provider
// sessions edited at runtime are picked up without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/listenarr/listenarr/internal/domain"
	"github.com/listenarr/listenarr/internal/downloadclient"
)

const envPrefix = "LISTENARR__"

// AppConfig owns the loaded configuration. Readers take value copies; the
// watcher goroutine is the only writer after startup.
type AppConfig struct {
	mu         sync.RWMutex
	config     domain.Config
	viper      *viper.Viper
	configPath string
}

// New loads configuration from configPath. A missing file is not an error;
// defaults plus environment overrides apply.
func New(configPath string, version string) (*AppConfig, error) {
	c := &AppConfig{
		viper:      viper.New(),
		configPath: configPath,
	}

	c.viper.SetConfigType("toml")
	setDefaults(c.viper)

	if configPath != "" {
		c.viper.SetConfigFile(configPath)
	}

	cfg, err := c.load()
	if err != nil {
		return nil, err
	}
	cfg.Version = version

	c.config = cfg
	return c, nil
}

func setDefaults(v *viper.Viper) {
	d := domain.Defaults()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("logLevel", d.LogLevel)
	v.SetDefault("logMaxSize", d.LogMaxSize)
	v.SetDefault("logMaxBackups", d.LogMaxBackups)
	v.SetDefault("pollingIntervalSeconds", d.PollingIntervalSeconds)
	v.SetDefault("maxActiveSearches", d.MaxActiveSearches)
	v.SetDefault("maxConcurrentDownloads", d.MaxConcurrentDownloads)
	v.SetDefault("catalogConcurrency", d.CatalogConcurrency)
	v.SetDefault("retryBackoffSeconds", d.RetryBackoffSeconds)
	v.SetDefault("minSearchConfidence", d.MinSearchConfidence)
	v.SetDefault("seedRatioLimit", d.SeedRatioLimit)
	v.SetDefault("seedTimeLimitSeconds", d.SeedTimeLimitSeconds)
	v.SetDefault("keepTorrentActive", d.KeepTorrentActive)
	v.SetDefault("waitForSeedingCompletion", d.WaitForSeeding)
}

func (c *AppConfig) load() (domain.Config, error) {
	if c.configPath != "" {
		if err := c.viper.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(c.configPath); statErr == nil {
				return domain.Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Debug().Str("path", c.configPath).Msg("config file not found, using defaults")
		}
	}

	applyEnvOverrides(c.viper)

	cfg := domain.Defaults()
	if err := c.viper.Unmarshal(&cfg); err != nil {
		return domain.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return domain.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides maps LISTENARR__UPPER_SNAKE environment variables onto
// top-level config keys, e.g. LISTENARR__TEMP_DOWNLOAD_PATH over
// tempDownloadPath. Env values win over the config file.
func applyEnvOverrides(v *viper.Viper) {
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, envPrefix) {
			continue
		}
		pair := strings.SplitN(strings.TrimPrefix(entry, envPrefix), "=", 2)
		if len(pair) != 2 || pair[0] == "" {
			continue
		}
		v.Set(envKeyToConfigKey(pair[0]), pair[1])
	}
}

func envKeyToConfigKey(envKey string) string {
	parts := strings.Split(strings.ToLower(envKey), "_")
	key := parts[0]
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		key += strings.ToUpper(part[:1]) + part[1:]
	}
	return key
}

// Get returns a copy of the current configuration.
func (c *AppConfig) Get() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// Reload re-reads the config file. Only runtime-safe settings take effect:
// consumers that captured startup values keep them.
func (c *AppConfig) Reload() error {
	cfg, err := c.load()
	if err != nil {
		return err
	}

	c.mu.Lock()
	cfg.Version = c.config.Version
	c.config = cfg
	c.mu.Unlock()

	log.Debug().Str("path", c.configPath).Msg("configuration reloaded")
	return nil
}

// Watch reloads the configuration when the file changes on disk. It runs
// until the watcher fails or stop is closed.
func (c *AppConfig) Watch(stop <-chan struct{}) error {
	if c.configPath == "" {
		<-stop
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(c.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	target := filepath.Clean(c.configPath)
	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := c.Reload(); err != nil {
				log.Error().Err(err).Msg("failed to reload configuration after change")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}

// SessionFor implements downloadclient.SessionSource over the configured
// direct-provider sessions.
func (c *AppConfig) SessionFor(host string) (downloadclient.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, ok := c.config.DirectProviderSessions[host]
	if !ok {
		return downloadclient.Session{}, false
	}
	return downloadclient.Session{BaseURL: session.BaseURL, Cookie: session.Cookie}, true
}
