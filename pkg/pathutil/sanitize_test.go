// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "The Stand", "The Stand"},
		{"slashes", "AC/DC: Live", "AC-DC - Live"},
		{"windows reserved", `He said "why?" <loudly>`, "He said 'why' loudly"},
		{"trailing dots", "Vol. 1...", "Vol. 1"},
		{"collapses whitespace", "  A   Title  ", "A Title"},
		{"empty", "", "unknown"},
		{"only reserved", "***", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}
