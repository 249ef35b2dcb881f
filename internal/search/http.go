// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"

	"github.com/listenarr/listenarr/internal/buildinfo"
)

const httpSearchTimeout = 30 * time.Second

// HTTPAdapter queries a search endpoint that speaks the simple JSON contract:
// GET <base>?title=&author=&catalog_id= returning a JSON array of candidate
// sources.
type HTTPAdapter struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPAdapter creates an HTTPAdapter for the given endpoint.
func NewHTTPAdapter(baseURL string) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: httpSearchTimeout},
	}
}

func (a *HTTPAdapter) Search(ctx context.Context, title, author, catalogID string) ([]CandidateSource, error) {
	var candidates []CandidateSource

	err := retry.Do(
		func() error {
			res, err := a.doSearch(ctx, title, author, catalogID)
			if err != nil {
				return err
			}
			candidates = res
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransientSearchError),
	)
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (a *HTTPAdapter) doSearch(ctx context.Context, title, author, catalogID string) ([]CandidateSource, error) {
	query := url.Values{}
	query.Set("title", title)
	query.Set("author", author)
	query.Set("catalog_id", catalogID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &searchStatusError{status: resp.StatusCode}
	}

	var candidates []CandidateSource
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return candidates, nil
}

type searchStatusError struct {
	status int
}

func (e *searchStatusError) Error() string {
	return fmt.Sprintf("search endpoint returned status %d", e.status)
}

// isTransientSearchError retries network failures and server errors; a 4xx
// means the request itself is wrong and will not improve on retry.
func isTransientSearchError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var se *searchStatusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return false
}
