// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb hands tests fresh migrated database files without paying
// the migration cost per test: the first request per key migrates a template
// once, later requests clone its files.
package testdb

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/listenarr/listenarr/internal/database"
)

var (
	mu        sync.Mutex
	templates = map[string]string{}
)

// PathFromTemplate returns the path of a fresh database file for one test,
// cloned from the migrated template registered under key.
func PathFromTemplate(t *testing.T, key, filename string) string {
	t.Helper()

	tmpl, err := templateFor(key)
	if err != nil {
		t.Fatalf("prepare test database template %q: %v", key, err)
	}

	dst := filepath.Join(t.TempDir(), filename)
	// The WAL sidecars may or may not exist depending on checkpoint timing.
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := cloneFile(tmpl+suffix, dst+suffix, suffix != ""); err != nil {
			t.Fatalf("clone test database template %q: %v", key, err)
		}
	}
	return dst
}

func templateFor(key string) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if path, ok := templates[key]; ok {
		return path, nil
	}

	dir, err := os.MkdirTemp("", "listenarr-testdb-")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "template.db")

	db, err := database.New(path)
	if err != nil {
		return "", err
	}
	if err := db.Close(); err != nil {
		return "", err
	}

	templates[key] = path
	return path, nil
}

func cloneFile(src, dst string, optional bool) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
