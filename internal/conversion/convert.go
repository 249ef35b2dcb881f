// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package conversion decides when a downloaded artifact needs transcoding,
// locates the artifact under an item's temp path, and runs the configured
// external converter program.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/listenarr/listenarr/internal/catalog"
)

// audioExtensions lists known audio extensions in preference order. Earlier
// entries win when a temp directory holds more than one candidate.
var audioExtensions = []string{".m4b", ".m4a", ".mp3", ".aax", ".aaxc", ".flac", ".ogg", ".wav"}

// encryptedExtensions are catalog formats that cannot be imported as-is.
var encryptedExtensions = map[string]catalog.Format{
	".aax":  catalog.FormatEncryptedA,
	".aaxc": catalog.FormatEncryptedB,
	".ax2":  catalog.FormatEncryptedB,
}

// ErrVoucherRequired marks an encrypted artifact that cannot be converted
// because no voucher was produced. It is a permanent failure.
var ErrVoucherRequired = errors.New("conversion requires a voucher for this format")

// ErrNoArtifact is returned when no audio file can be located under an
// item's temp path.
var ErrNoArtifact = errors.New("no audio artifact found")

// Request describes one conversion run.
type Request struct {
	InputPath   string
	OutputPath  string
	VoucherPath string
	Format      catalog.Format
}

// Converter transcodes one artifact. Implementations return ErrVoucherRequired
// when the format demands a voucher and none is present.
type Converter interface {
	Convert(ctx context.Context, req Request) error
}

// Required reports whether artifactPath needs conversion before import.
// Encrypted catalog formats do; standard audio containers and torrent media
// do not. declaredFormat and sourceURL are secondary heuristics for payloads
// whose extension lies.
func Required(artifactPath string, declaredFormat catalog.Format, sourceURL string) bool {
	if _, ok := encryptedExtensions[strings.ToLower(filepath.Ext(artifactPath))]; ok {
		return true
	}
	switch declaredFormat {
	case catalog.FormatEncryptedA, catalog.FormatEncryptedB, catalog.FormatEncryptedAFallback:
		return true
	}
	lowered := strings.ToLower(sourceURL)
	for ext := range encryptedExtensions {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

// ArtifactFormat classifies an artifact by extension, falling back to the
// declared format when the extension is not an encrypted one.
func ArtifactFormat(artifactPath string, declaredFormat catalog.Format) catalog.Format {
	if f, ok := encryptedExtensions[strings.ToLower(filepath.Ext(artifactPath))]; ok {
		return f
	}
	return declaredFormat
}

// VoucherRequired reports whether format cannot be converted without a
// voucher.
func VoucherRequired(format catalog.Format) bool {
	return format == catalog.FormatEncryptedB
}

// LocateArtifact resolves the audio file for an item. A file temp path is
// taken as-is; a directory is walked recursively for known audio extensions,
// preferring earlier extensions and then larger files.
func LocateArtifact(tempPath string) (string, error) {
	info, err := os.Stat(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat temp path: %w", err)
	}
	if !info.IsDir() {
		return tempPath, nil
	}

	bestPath := ""
	bestRank := len(audioExtensions)
	var bestSize int64 = -1

	walkErr := filepath.WalkDir(tempPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rank := extensionRank(path)
		if rank < 0 {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if rank < bestRank || (rank == bestRank && fi.Size() > bestSize) {
			bestPath = path
			bestRank = rank
			bestSize = fi.Size()
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("failed to walk temp path: %w", walkErr)
	}
	if bestPath == "" {
		return "", ErrNoArtifact
	}
	return bestPath, nil
}

func extensionRank(path string) int {
	ext := strings.ToLower(filepath.Ext(path))
	for i, known := range audioExtensions {
		if ext == known {
			return i
		}
	}
	return -1
}
