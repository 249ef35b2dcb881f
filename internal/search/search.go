// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package search defines the indexer search contract. The wire protocol
// behind an implementation (Torznab, Newznab, a site-specific API) is not the
// core's concern; the orchestrator only ranks and selects candidates.
package search

import (
	"context"
	"sort"

	"github.com/listenarr/listenarr/internal/pipeline"
)

// CandidateSource is one search result with enough metadata to dispatch a
// download. Candidates are never persisted; the chosen one is copied onto the
// queue item.
type CandidateSource struct {
	SourceURL       string        `json:"source_url"`
	SourceInfoHash  string        `json:"source_info_hash,omitempty"`
	IndexerName     string        `json:"indexer_name"`
	Kind            pipeline.Kind `json:"kind"`
	SizeBytes       int64         `json:"size_bytes"`
	Seeders         int           `json:"seeders"`
	ConfidenceScore int           `json:"confidence_score"`
}

// Adapter performs a search against external indexers. Implementations are
// side-effect-free: they never mutate queue items.
type Adapter interface {
	Search(ctx context.Context, title, author, catalogID string) ([]CandidateSource, error)
}

// Select picks the best acceptable candidate: the highest confidence score at
// or above minConfidence, with a usable source URL. It returns nil when no
// candidate qualifies.
func Select(candidates []CandidateSource, minConfidence int) *CandidateSource {
	if len(candidates) == 0 {
		return nil
	}

	ranked := make([]CandidateSource, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ConfidenceScore > ranked[j].ConfidenceScore
	})

	top := ranked[0]
	if top.ConfidenceScore < minConfidence {
		return nil
	}
	if top.SourceURL == "" {
		return nil
	}
	return &top
}
