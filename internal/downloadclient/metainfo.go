// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/zeebo/bencode"
)

type metainfo struct {
	Info bencode.RawMessage `bencode:"info"`
}

// InfoHash computes the v1 info hash of a .torrent payload.
func InfoHash(torrentBytes []byte) (string, error) {
	var meta metainfo
	if err := bencode.DecodeBytes(torrentBytes, &meta); err != nil {
		return "", fmt.Errorf("failed to decode torrent metainfo: %w", err)
	}
	if len(meta.Info) == 0 {
		return "", fmt.Errorf("torrent metainfo has no info dictionary")
	}
	sum := sha1.Sum(meta.Info)
	return hex.EncodeToString(sum[:]), nil
}

// hashFromMagnet extracts the btih info hash from a magnet URI, or returns
// an empty string when absent or unparsable.
func hashFromMagnet(magnetURI string) string {
	u, err := url.Parse(magnetURI)
	if err != nil {
		return ""
	}
	for _, xt := range u.Query()["xt"] {
		if rest, ok := strings.CutPrefix(xt, "urn:btih:"); ok && rest != "" {
			return strings.ToLower(rest)
		}
	}
	return ""
}
