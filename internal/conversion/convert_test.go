// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package conversion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenarr/listenarr/internal/catalog"
)

func TestRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		artifact string
		format   catalog.Format
		source   string
		want     bool
	}{
		{"m4b needs nothing", "/tmp/x/book.m4b", "", "", false},
		{"mp3 needs nothing", "/tmp/x/book.mp3", "", "https://idx/book.torrent", false},
		{"aax extension", "/tmp/x/book.aax", "", "", true},
		{"aaxc extension", "/tmp/x/book.aaxc", "", "", true},
		{"ax2 extension", "/tmp/x/book.ax2", "", "", true},
		{"case insensitive extension", "/tmp/x/BOOK.AAX", "", "", true},
		{"declared encrypted-A", "/tmp/x/book.bin", catalog.FormatEncryptedA, "", true},
		{"declared encrypted-B", "/tmp/x/book.bin", catalog.FormatEncryptedB, "", true},
		{"declared fallback", "/tmp/x/book.bin", catalog.FormatEncryptedAFallback, "", true},
		{"source url suffix", "/tmp/x/book", "", "https://catalog/dl/book.aaxc", true},
		{"plain torrent media", "/tmp/x/book", "", "https://idx/book.torrent", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Required(tt.artifact, tt.format, tt.source))
		})
	}
}

func TestArtifactFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, catalog.FormatEncryptedA, ArtifactFormat("/tmp/book.aax", catalog.FormatEncryptedB))
	assert.Equal(t, catalog.FormatEncryptedB, ArtifactFormat("/tmp/book.aaxc", ""))
	assert.Equal(t, catalog.FormatEncryptedB, ArtifactFormat("/tmp/book.ax2", ""))
	assert.Equal(t, catalog.FormatEncryptedA, ArtifactFormat("/tmp/book.bin", catalog.FormatEncryptedA))
}

func TestVoucherRequired(t *testing.T) {
	t.Parallel()

	assert.True(t, VoucherRequired(catalog.FormatEncryptedB))
	assert.False(t, VoucherRequired(catalog.FormatEncryptedA))
	assert.False(t, VoucherRequired(catalog.FormatEncryptedAFallback))
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestLocateArtifactFilePassthrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "book.aaxc")
	writeFile(t, file, 10)

	got, err := LocateArtifact(file)
	require.NoError(t, err)
	assert.Equal(t, file, got)
}

func TestLocateArtifactPrefersExtensionOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// mp3 is bigger but m4b outranks it.
	writeFile(t, filepath.Join(dir, "disc1", "book.mp3"), 4096)
	writeFile(t, filepath.Join(dir, "book.m4b"), 128)
	writeFile(t, filepath.Join(dir, "cover.jpg"), 9000)

	got, err := LocateArtifact(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "book.m4b"), got)
}

func TestLocateArtifactPrefersLargestAtSameRank(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sample.mp3"), 64)
	writeFile(t, filepath.Join(dir, "full.mp3"), 8192)

	got, err := LocateArtifact(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "full.mp3"), got)
}

func TestLocateArtifactNoAudio(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "readme.txt"), 10)

	_, err := LocateArtifact(dir)
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestLocateArtifactMissingPath(t *testing.T) {
	t.Parallel()

	_, err := LocateArtifact(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
