// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package buildinfo holds version information stamped at build time.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent identifies this build in outbound HTTP requests.
var UserAgent string

func init() {
	UserAgent = fmt.Sprintf("listenarr/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String returns a human-readable version block.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\nGo: %s", Version, Commit, Date, runtime.Version())
}

// JSON returns the version information as a JSON object.
func JSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	})
}
