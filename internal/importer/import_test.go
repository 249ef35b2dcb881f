// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDestinationFor(t *testing.T) {
	t.Parallel()

	im := New("/library", "")
	dest := im.DestinationFor(Request{
		SourcePath: "/tmp/listenarr-1/book.M4B",
		Title:      "The Stand",
		Author:     "Stephen King",
	})
	assert.Equal(t, filepath.Join("/library", "Stephen King", "The Stand.m4b"), dest)
}

func TestDestinationForSanitizesMetadata(t *testing.T) {
	t.Parallel()

	im := New("/library", "")
	dest := im.DestinationFor(Request{
		SourcePath: "/tmp/book.m4b",
		Title:      "What If? Vol: 2",
		Author:     "A/C Author",
	})
	assert.Equal(t, filepath.Join("/library", "A-C Author", "What If Vol - 2.m4b"), dest)
}

func TestDestinationForCustomTemplate(t *testing.T) {
	t.Parallel()

	im := New("/library", "{author} - {title}{ext}")
	dest := im.DestinationFor(Request{
		SourcePath: "/tmp/book.mp3",
		Title:      "Dune",
		Author:     "Frank Herbert",
	})
	assert.Equal(t, filepath.Join("/library", "Frank Herbert - Dune.mp3"), dest)
}

func TestImportCopyMode(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	library := t.TempDir()
	source := writeSource(t, srcDir, "book.m4b", "audio-bytes")

	im := New(library, "")
	final, err := im.Import(context.Background(), Request{
		SourcePath: source,
		Title:      "Dune",
		Author:     "Frank Herbert",
		Mode:       ModeCopy,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(library, "Frank Herbert", "Dune.m4b"), final)

	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(got))

	// Copy mode leaves the source for the seeding client.
	_, err = os.Stat(source)
	assert.NoError(t, err)

	// No staging file left behind.
	_, err = os.Stat(final + ".listenarr-partial")
	assert.True(t, os.IsNotExist(err))
}

func TestImportMoveMode(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	library := t.TempDir()
	source := writeSource(t, srcDir, "book.m4b", "audio-bytes")

	im := New(library, "")
	final, err := im.Import(context.Background(), Request{
		SourcePath: source,
		Title:      "Dune",
		Author:     "Frank Herbert",
		Mode:       ModeMove,
	})
	require.NoError(t, err)

	_, err = os.Stat(final)
	assert.NoError(t, err)
	_, err = os.Stat(source)
	assert.True(t, os.IsNotExist(err), "move mode removes the source")
}

func TestImportRefusesExistingDestination(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	library := t.TempDir()
	source := writeSource(t, srcDir, "book.m4b", "new-bytes")

	im := New(library, "")
	req := Request{SourcePath: source, Title: "Dune", Author: "Frank Herbert"}

	existing := im.DestinationFor(req)
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("old-bytes"), 0o644))

	_, err := im.Import(context.Background(), req)
	assert.ErrorIs(t, err, ErrDestinationExists)

	// The existing file is untouched.
	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old-bytes", string(got))
}

func TestImportMissingSource(t *testing.T) {
	t.Parallel()

	im := New(t.TempDir(), "")
	_, err := im.Import(context.Background(), Request{
		SourcePath: filepath.Join(t.TempDir(), "absent.m4b"),
		Title:      "Dune",
		Author:     "Frank Herbert",
	})
	assert.Error(t, err)
}

func TestImportEmptySource(t *testing.T) {
	t.Parallel()

	im := New(t.TempDir(), "")
	_, err := im.Import(context.Background(), Request{Title: "Dune", Author: "Frank Herbert"})
	assert.Error(t, err)
}

func TestImportCancelledContext(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	library := t.TempDir()
	source := writeSource(t, srcDir, "book.m4b", "audio-bytes")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	im := New(library, "")
	_, err := im.Import(ctx, Request{SourcePath: source, Title: "Dune", Author: "Frank Herbert"})
	assert.Error(t, err)
}
