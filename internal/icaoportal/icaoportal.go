// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package icaoportal implements the outbound HTTPS client named in §6's
// external services list: a read-only GET against the ICAO portal's
// version manifest, used by the scheduler to detect when new Master
// Lists/LDIF bundles have been published.
package icaoportal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/apperr"
)

// defaultTimeout bounds the outbound call per §5's "every outbound call
// has an explicit timeout" rule.
const defaultTimeout = 15 * time.Second

// manifest is the recognized JSON shape of a version manifest. A portal
// that instead returns a bare text version string is handled by treating
// the whole body as the version when JSON decoding fails.
type manifest struct {
	Version string `json:"version"`
}

// Client polls the ICAO portal for its current published version.
type Client struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient constructs a portal Client against url.
func NewClient(url string, log zerolog.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.With().Str("component", "icaoportal").Logger(),
	}
}

// FetchVersion retrieves and parses the current remote version string.
func (c *Client) FetchVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrPortalUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrPortalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", apperr.ErrPortalUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrPortalBadResponse, err)
	}

	var m manifest
	if err := json.Unmarshal(body, &m); err == nil && m.Version != "" {
		return m.Version, nil
	}

	version := strings.TrimSpace(string(body))
	if version == "" {
		return "", apperr.ErrPortalBadResponse
	}
	return version, nil
}

// versionRecorder is the subset of the catalog the checker writes its
// result to.
type versionRecorder interface {
	RecordVersionCheck(ctx context.Context, checkedAt time.Time, remoteVersion, localVersion string, changed bool) error
}

// CheckAndRecord fetches the remote version, compares it against
// lastKnownVersion, and records the observation via RecordVersionCheck
// (§3A icao_version_history). It returns the remote version and whether it
// differs from lastKnownVersion, so the caller can decide whether to kick
// off a download.
func (c *Client) CheckAndRecord(ctx context.Context, cat versionRecorder, lastKnownVersion string) (remoteVersion string, changed bool, err error) {
	remoteVersion, err = c.FetchVersion(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to fetch ICAO portal version manifest")
		return "", false, err
	}

	changed = remoteVersion != lastKnownVersion
	checkedAt := time.Now().UTC()
	if rerr := cat.RecordVersionCheck(ctx, checkedAt, remoteVersion, lastKnownVersion, changed); rerr != nil {
		c.log.Error().Err(rerr).Msg("failed to record ICAO portal version check")
		return remoteVersion, changed, rerr
	}

	if changed {
		c.log.Info().Str("remote_version", remoteVersion).Str("local_version", lastKnownVersion).Msg("new ICAO portal version detected")
	}

	return remoteVersion, changed, nil
}
