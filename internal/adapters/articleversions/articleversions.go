// Package articleversions wraps the article-versions lookup service (Lax).
// A 404 means "no versions recorded yet" and is not treated as an error by
// any of these operations — only transport/unexpected-status failures are.
// Grounded on original_source/provider/lax_provider.py, generalized from
// module-level functions taking a shared settings object to methods on a
// Client value.
package articleversions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Version is one recorded version of an article.
type Version struct {
	Version   int       `json:"version"`
	Status    string    `json:"status"`
	Published time.Time `json:"published"`
}

type versionsResponse struct {
	Versions []Version `json:"versions"`
}

// Client queries the article-versions service for one article-id template
// URL, e.g. "https://.../articles/{article_id}/versions".
type Client struct {
	httpClient  *http.Client
	versionsURL string
}

func NewClient(versionsURL string) *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}, versionsURL: versionsURL}
}

// Versions fetches every recorded version for articleID. found is false on
// a 404 (no versions recorded); err is non-nil only for transport failures
// or unexpected status codes.
func (c *Client) Versions(ctx context.Context, articleID string) (versions []Version, found bool, err error) {
	url := strings.ReplaceAll(c.versionsURL, "{article_id}", articleID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("articleversions: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("articleversions: request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var parsed versionsResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, false, fmt.Errorf("articleversions: decode response: %w", err)
		}
		return parsed.Versions, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("articleversions: unexpected status %d", resp.StatusCode)
	}
}

// Highest returns the highest recorded version number. A 404 (no versions
// recorded yet) is not an error: it returns 1. A 200 with an empty
// versions list returns 0. Only a genuine transport/unexpected-status
// failure returns a nil result, and that nil is treated as disapproval by
// every caller that gates on it — there is no sound integer comparison
// against an absent highest version.
func (c *Client) Highest(ctx context.Context, articleID string) (*int, error) {
	versions, found, err := c.Versions(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !found {
		one := 1
		return &one, nil
	}
	high := 0
	for _, v := range versions {
		if v.Version > high {
			high = v.Version
		}
	}
	return &high, nil
}

// NextVersion returns the version number the next deposit should use. A
// 404 (no versions recorded) is treated as "the next version is the
// first version": it returns "1" directly rather than incrementing
// Highest's 404 placeholder value. Any other status increments the
// highest recorded version.
func (c *Client) NextVersion(ctx context.Context, articleID string) (string, error) {
	versions, found, err := c.Versions(ctx, articleID)
	if err != nil {
		return "", err
	}
	if !found {
		return "1", nil
	}
	high := 0
	for _, v := range versions {
		if v.Version > high {
			high = v.Version
		}
	}
	return strconv.Itoa(high + 1), nil
}

// PublicationDate returns the recorded publication timestamp for a
// specific version of articleID, as found in the versions list. ok is
// false if the article has no recorded versions or the requested version
// is not among them.
func (c *Client) PublicationDate(ctx context.Context, articleID, version string) (published time.Time, ok bool, err error) {
	versions, found, err := c.Versions(ctx, articleID)
	if err != nil {
		return time.Time{}, false, err
	}
	if !found {
		return time.Time{}, false, nil
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return time.Time{}, false, nil
	}
	for _, rec := range versions {
		if rec.Version == v {
			return rec.Published, true, nil
		}
	}
	return time.Time{}, false, nil
}

// FirstByStatus reports whether the first (lowest-version) recorded
// version of articleID carries the given status, e.g. "vor" for
// first-vor-only deposit variants.
func (c *Client) FirstByStatus(ctx context.Context, articleID, status string) (bool, error) {
	versions, found, err := c.Versions(ctx, articleID)
	if err != nil {
		return false, err
	}
	if !found || len(versions) == 0 {
		return false, nil
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions[0].Status == status, nil
}
