// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathMapperToRemote(t *testing.T) {
	t.Parallel()

	pm := NewPathMapper([]PathMapping{
		{Remote: "/downloads", Local: "/srv/media/downloads"},
		{Remote: "/downloads/audio", Local: "/srv/media/downloads/audio"},
	})

	tests := []struct {
		name  string
		local string
		want  string
	}{
		{"longest prefix wins", "/srv/media/downloads/audio/book", "/downloads/audio/book"},
		{"shorter prefix", "/srv/media/downloads/other/book", "/downloads/other/book"},
		{"exact prefix", "/srv/media/downloads", "/downloads"},
		{"no match passes through", "/home/user/file", "/home/user/file"},
		{"component boundary", "/srv/media/downloads-archive/x", "/srv/media/downloads-archive/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, pm.ToRemote(tt.local))
		})
	}
}

func TestPathMapperToLocal(t *testing.T) {
	t.Parallel()

	pm := NewPathMapper([]PathMapping{
		{Remote: "/downloads", Local: "/srv/media/downloads"},
	})

	assert.Equal(t, "/srv/media/downloads/book", pm.ToLocal("/downloads/book"))
	assert.Equal(t, "/elsewhere/book", pm.ToLocal("/elsewhere/book"))
}

func TestPathMapperRoundTrip(t *testing.T) {
	t.Parallel()

	pm := NewPathMapper([]PathMapping{
		{Remote: "/downloads/", Local: "/srv/media/downloads/"},
		{Remote: "/books", Local: "/srv/media/books"},
	})

	paths := []string{
		"/srv/media/downloads/listenarr-42",
		"/srv/media/books/king/the-stand",
		"/srv/media/downloads",
	}
	for _, p := range paths {
		assert.Equal(t, p, pm.ToLocal(pm.ToRemote(p)), "round trip for %s", p)
	}
}

func TestPathMapperSkipsEmptyMappings(t *testing.T) {
	t.Parallel()

	pm := NewPathMapper([]PathMapping{
		{Remote: "", Local: "/srv"},
		{Remote: "/downloads", Local: ""},
	})
	assert.Equal(t, "/srv/x", pm.ToRemote("/srv/x"))
}
