// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"path"
	"sort"
	"strings"
)

// PathMapping pairs one remote (client-side) prefix with its local
// equivalent.
type PathMapping struct {
	Remote string `mapstructure:"remote"`
	Local  string `mapstructure:"local"`
}

// PathMapper translates between the orchestrator's filesystem view and the
// external client's. Mappings are matched longest-prefix-first; a path with
// no matching prefix passes through unchanged.
type PathMapper struct {
	mappings []PathMapping
}

// NewPathMapper builds a mapper from the configured mapping list. Prefixes
// are normalized to have no trailing slash.
func NewPathMapper(mappings []PathMapping) *PathMapper {
	normalized := make([]PathMapping, 0, len(mappings))
	for _, m := range mappings {
		remote := strings.TrimRight(m.Remote, "/")
		local := strings.TrimRight(m.Local, "/")
		if remote == "" || local == "" {
			continue
		}
		normalized = append(normalized, PathMapping{Remote: remote, Local: local})
	}
	// Longest prefix wins regardless of configuration order.
	sort.SliceStable(normalized, func(i, j int) bool {
		return len(normalized[i].Local) > len(normalized[j].Local)
	})
	return &PathMapper{mappings: normalized}
}

// ToRemote maps a local path into the client's view.
func (pm *PathMapper) ToRemote(localPath string) string {
	for _, m := range pm.mappings {
		if rel, ok := prefixRel(localPath, m.Local); ok {
			return joinPrefix(m.Remote, rel)
		}
	}
	return localPath
}

// ToLocal maps a client-side path into the orchestrator's view.
func (pm *PathMapper) ToLocal(remotePath string) string {
	// Remote prefixes may differ in length ordering from local ones.
	best := -1
	bestLen := -1
	for i, m := range pm.mappings {
		if _, ok := prefixRel(remotePath, m.Remote); ok && len(m.Remote) > bestLen {
			best = i
			bestLen = len(m.Remote)
		}
	}
	if best < 0 {
		return remotePath
	}
	rel, _ := prefixRel(remotePath, pm.mappings[best].Remote)
	return joinPrefix(pm.mappings[best].Local, rel)
}

// prefixRel reports whether p lives under prefix and returns the relative
// remainder. A prefix only matches at a path component boundary.
func prefixRel(p, prefix string) (string, bool) {
	if p == prefix {
		return "", true
	}
	if strings.HasPrefix(p, prefix+"/") {
		return strings.TrimPrefix(p, prefix+"/"), true
	}
	return "", false
}

func joinPrefix(prefix, rel string) string {
	if rel == "" {
		return prefix
	}
	return path.Join(prefix, rel)
}
