// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func buildTorrent(t *testing.T, name string) ([]byte, string) {
	t.Helper()

	info, err := bencode.EncodeBytes(map[string]interface{}{
		"name":         name,
		"length":       int64(1024),
		"piece length": int64(16384),
		"pieces":       "01234567890123456789",
	})
	require.NoError(t, err)

	torrent, err := bencode.EncodeBytes(map[string]interface{}{
		"announce": "http://tracker.example.com/announce",
		"info":     bencode.RawMessage(info),
	})
	require.NoError(t, err)

	sum := sha1.Sum(info)
	return torrent, hex.EncodeToString(sum[:])
}

func TestInfoHash(t *testing.T) {
	t.Parallel()

	torrent, want := buildTorrent(t, "The Stand [Unabridged]")
	got, err := InfoHash(torrent)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInfoHashMissingInfoDict(t *testing.T) {
	t.Parallel()

	payload, err := bencode.EncodeBytes(map[string]interface{}{"announce": "http://t"})
	require.NoError(t, err)

	_, err = InfoHash(payload)
	assert.Error(t, err)
}

func TestInfoHashGarbage(t *testing.T) {
	t.Parallel()

	_, err := InfoHash([]byte("<html>not a torrent</html>"))
	assert.Error(t, err)
}

func TestHashFromMagnet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		magnet string
		want   string
	}{
		{
			"plain",
			"magnet:?xt=urn:btih:ABCDEF0123456789ABCDEF0123456789ABCDEF01&dn=book",
			"abcdef0123456789abcdef0123456789abcdef01",
		},
		{
			"lowercase",
			"magnet:?xt=urn:btih:abcdef0123456789abcdef0123456789abcdef01",
			"abcdef0123456789abcdef0123456789abcdef01",
		},
		{"no xt", "magnet:?dn=book", ""},
		{"not a magnet", "https://idx/file.torrent", ""},
		{"empty hash", "magnet:?xt=urn:btih:", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, hashFromMagnet(tt.magnet))
		})
	}
}
