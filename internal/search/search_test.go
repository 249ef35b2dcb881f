// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	t.Parallel()

	candidates := []CandidateSource{
		{SourceURL: "https://idx/a.torrent", ConfidenceScore: 70},
		{SourceURL: "https://idx/b.torrent", ConfidenceScore: 92},
		{SourceURL: "https://idx/c.torrent", ConfidenceScore: 85},
	}

	picked := Select(candidates, 85)
	require.NotNil(t, picked)
	assert.Equal(t, "https://idx/b.torrent", picked.SourceURL)
}

func TestSelectConfidenceBoundary(t *testing.T) {
	t.Parallel()

	// Exactly at the threshold is accepted.
	picked := Select([]CandidateSource{{SourceURL: "https://idx/x.torrent", ConfidenceScore: 85}}, 85)
	require.NotNil(t, picked)

	// One below is not.
	picked = Select([]CandidateSource{{SourceURL: "https://idx/x.torrent", ConfidenceScore: 84}}, 85)
	assert.Nil(t, picked)
}

func TestSelectRejectsMissingURL(t *testing.T) {
	t.Parallel()

	picked := Select([]CandidateSource{{SourceURL: "", ConfidenceScore: 99}}, 85)
	assert.Nil(t, picked)
}

func TestSelectEmpty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Select(nil, 85))
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	candidates := []CandidateSource{
		{SourceURL: "https://idx/a.torrent", ConfidenceScore: 70},
		{SourceURL: "https://idx/b.torrent", ConfidenceScore: 92},
	}
	_ = Select(candidates, 85)
	assert.Equal(t, 70, candidates[0].ConfidenceScore)
}

func TestHTTPAdapterSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "The Stand", r.URL.Query().Get("title"))
		assert.Equal(t, "Stephen King", r.URL.Query().Get("author"))
		assert.Equal(t, "B00TEST001", r.URL.Query().Get("catalog_id"))

		_ = json.NewEncoder(w).Encode([]CandidateSource{
			{SourceURL: "https://idx/a.torrent", IndexerName: "idx", ConfidenceScore: 90},
		})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL)
	candidates, err := adapter.Search(context.Background(), "The Stand", "Stephen King", "B00TEST001")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 90, candidates[0].ConfidenceScore)
}

func TestHTTPAdapterSearchErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL)
	_, err := adapter.Search(context.Background(), "t", "a", "c")
	assert.Error(t, err)
}

func TestHTTPAdapterRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode([]CandidateSource{
			{SourceURL: "https://idx/a.torrent", ConfidenceScore: 90},
		})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL)
	candidates, err := adapter.Search(context.Background(), "t", "a", "c")
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestHTTPAdapterDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL)
	_, err := adapter.Search(context.Background(), "t", "a", "c")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
