// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package importer places finished artifacts into the library with checksum
// verification. Destinations come from item metadata and a naming template.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/listenarr/listenarr/pkg/pathutil"
)

// DefaultNamingTemplate lays out one directory per author with one file per
// title.
const DefaultNamingTemplate = "{author}/{title}{ext}"

// ErrDestinationExists is returned when the resolved library path is already
// occupied. The importer never overwrites library files.
var ErrDestinationExists = errors.New("import destination already exists")

// Mode selects how the artifact reaches the library.
type Mode int

const (
	// ModeMove relocates the artifact; the source is gone afterwards.
	ModeMove Mode = iota
	// ModeCopy duplicates the artifact, leaving the source for a seeding
	// client.
	ModeCopy
)

// Request describes one import.
type Request struct {
	SourcePath string
	Title      string
	Author     string
	Mode       Mode
}

// Importer writes verified artifacts under the library root.
type Importer struct {
	libraryRoot    string
	namingTemplate string
}

// New creates an Importer. An empty template gets DefaultNamingTemplate.
func New(libraryRoot, namingTemplate string) *Importer {
	if namingTemplate == "" {
		namingTemplate = DefaultNamingTemplate
	}
	return &Importer{libraryRoot: libraryRoot, namingTemplate: namingTemplate}
}

// DestinationFor resolves the library path for an artifact from the naming
// template. Metadata values are sanitized per path component.
func (im *Importer) DestinationFor(req Request) string {
	values := map[string]string{
		"author": pathutil.SanitizeFilename(req.Author),
		"title":  pathutil.SanitizeFilename(req.Title),
		"ext":    strings.ToLower(filepath.Ext(req.SourcePath)),
	}
	rel := im.namingTemplate
	for key, value := range values {
		rel = strings.ReplaceAll(rel, "{"+key+"}", value)
	}
	return filepath.Join(im.libraryRoot, filepath.FromSlash(rel))
}

// Import places the artifact into the library and returns the final path.
// The artifact is staged next to the destination, hash-verified against the
// source, then renamed into place; a verification failure rolls the staging
// file back and leaves the source untouched.
func (im *Importer) Import(ctx context.Context, req Request) (string, error) {
	if req.SourcePath == "" {
		return "", errors.New("source path cannot be empty")
	}

	destination := im.DestinationFor(req)
	if _, err := os.Stat(destination); err == nil {
		return "", fmt.Errorf("%w: %s", ErrDestinationExists, destination)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat destination: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}

	sourceSum, err := fileChecksum(ctx, req.SourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to checksum source: %w", err)
	}

	staging := destination + ".listenarr-partial"
	if err := copyFile(ctx, req.SourcePath, staging); err != nil {
		_ = os.Remove(staging)
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}

	stagedSum, err := fileChecksum(ctx, staging)
	if err != nil {
		_ = os.Remove(staging)
		return "", fmt.Errorf("failed to checksum staged copy: %w", err)
	}
	if stagedSum != sourceSum {
		_ = os.Remove(staging)
		return "", fmt.Errorf("checksum mismatch after copy: source %s, copy %s", sourceSum, stagedSum)
	}

	if err := os.Rename(staging, destination); err != nil {
		_ = os.Remove(staging)
		return "", fmt.Errorf("failed to finalize import: %w", err)
	}

	if req.Mode == ModeMove {
		if err := os.Remove(req.SourcePath); err != nil {
			// The library copy is verified; a stale source is a cleanup
			// problem, not an import failure.
			log.Warn().Err(err).Str("source", req.SourcePath).Msg("failed to remove imported source")
		}
	}

	log.Debug().
		Str("source", req.SourcePath).
		Str("destination", destination).
		Str("sha256", sourceSum).
		Msg("artifact imported")
	return destination, nil
}

func fileChecksum(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, contextReader{ctx: ctx, r: f}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, contextReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// contextReader aborts long file copies when the context is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
