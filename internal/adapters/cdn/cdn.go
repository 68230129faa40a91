// Package cdn purges Fastly surrogate keys for a published article,
// invalidating the CDN's cache of its previous version. No Go client
// library for Fastly's purge API appears anywhere in the retrieval pack;
// this adapter uses net/http directly, consistent with this codebase's
// own HTTPExecutor being stdlib-based for the same class of "POST a
// control-plane request" need. Grounded on
// original_source/provider/fastly_provider.py.
package cdn

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.fastly.com"

type Client struct {
	httpClient *http.Client
	baseURL    string // defaults to the real Fastly API; overridable in tests
	apiKey     string
	serviceIDs []string
}

func NewClient(apiKey string, serviceIDs []string) *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}, baseURL: defaultBaseURL, apiKey: apiKey, serviceIDs: serviceIDs}
}

// PurgeArticle invalidates every surrogate key Fastly is configured to
// tag an article version's variants with, on every configured service.
// Individual purge failures are collected rather than short-circuiting,
// so one bad service ID doesn't block purges on the others.
func (c *Client) PurgeArticle(ctx context.Context, articleID, version string) error {
	var failures []string
	for _, serviceID := range c.serviceIDs {
		for _, key := range surrogateKeys(articleID, version) {
			if err := c.purge(ctx, serviceID, key); err != nil {
				failures = append(failures, err.Error())
			}
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("cdn: %d of %d purge requests failed: %s",
			len(failures), len(c.serviceIDs)*2, strings.Join(failures, "; "))
	}
	return nil
}

// purge requests invalidation of one surrogate key on one Fastly service.
func (c *Client) purge(ctx context.Context, serviceID, surrogateKey string) error {
	url := fmt.Sprintf("%s/service/%s/purge/%s", c.baseURL, serviceID, surrogateKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("cdn: build purge request: %w", err)
	}
	req.Header.Set("Fastly-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cdn: purge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cdn: unexpected purge status %d for %s", resp.StatusCode, surrogateKey)
	}
	return nil
}

// surrogateKeys returns the keys Fastly is configured to tag an article's
// cached variants with: the specific version, and its videos.
func surrogateKeys(articleID, version string) []string {
	id := zfill(articleID, 5)
	return []string{
		fmt.Sprintf("articles/%sv%s", id, version),
		fmt.Sprintf("articles/%s/videos", id),
	}
}

// zfill left-pads s with '0' to at least n characters, matching Python's
// str.zfill used by the original provider for article identifiers.
func zfill(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}
