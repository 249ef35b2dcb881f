// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pathutil holds filename helpers shared by the importer and the
// orchestrator's temp-directory layout.
package pathutil

import "strings"

var filenameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", " -",
	"*", "",
	"?", "",
	"\"", "'",
	"<", "",
	">", "",
	"|", "",
	"\x00", "",
)

// SanitizeFilename makes name safe as a single path component. Separator and
// reserved characters are replaced, surrounding whitespace and dots are
// trimmed, and an empty result falls back to "unknown".
func SanitizeFilename(name string) string {
	cleaned := filenameReplacer.Replace(name)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = strings.Trim(cleaned, " .")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}
