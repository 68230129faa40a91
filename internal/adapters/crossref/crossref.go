// Package crossref deposits a generated deposit document with the
// Crossref deposit endpoint over a multipart POST. Grounded on this
// codebase's HTTPExecutor (context-bound client, status-code-driven
// success classification), generalized from a single request/response
// pair to a multipart file upload.
package crossref

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Client posts deposit documents to a Crossref-compatible endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	login      string
	password   string
}

func NewClient(endpoint, login, password string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		endpoint:   endpoint,
		login:      login,
		password:   password,
	}
}

// Deposit uploads one deposit document and reports whether Crossref
// accepted it (2xx). The response body is returned for detail logging
// regardless of outcome.
func (c *Client) Deposit(ctx context.Context, fileName string, body io.Reader) (accepted bool, responseBody string, err error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("operation", "doMDUpload"); err != nil {
		return false, "", fmt.Errorf("crossref: write operation field: %w", err)
	}
	if err := writer.WriteField("login_id", c.login); err != nil {
		return false, "", fmt.Errorf("crossref: write login field: %w", err)
	}
	if err := writer.WriteField("login_passwd", c.password); err != nil {
		return false, "", fmt.Errorf("crossref: write password field: %w", err)
	}

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return false, "", fmt.Errorf("crossref: create form file: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return false, "", fmt.Errorf("crossref: copy file body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return false, "", fmt.Errorf("crossref: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return false, "", fmt.Errorf("crossref: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("crossref: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, "", fmt.Errorf("crossref: read response: %w", err)
	}

	return resp.StatusCode >= 200 && resp.StatusCode < 300, string(respBody), nil
}
