package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	requestTimeout = 10 * time.Second
	perPage        = 100
	maxPages       = 10
)

// RESTClient talks to the hosting service's REST API with a bearer token.
// Transient failures (5xx, 429) get exactly one retry.
type RESTClient struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// NewRESTClient returns a client for the API at base.
func NewRESTClient(base, token string, logger *zap.Logger) *RESTClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTClient{
		base:   base,
		token:  token,
		http:   &http.Client{Timeout: requestTimeout},
		logger: logger.Named("hosting"),
	}
}

type fileResponse struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// FetchDiff lists the changed files of the pull request, following
// pagination up to maxPages.
func (c *RESTClient) FetchDiff(ctx context.Context, ev EventContext) ([]DiffFile, error) {
	var files []DiffFile
	for page := 1; page <= maxPages; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d",
			c.base, ev.Owner, ev.Repo, ev.PRNumber, perPage, page)
		body, err := c.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch diff page %d: %w", page, err)
		}
		var batch []fileResponse
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("decode diff page %d: %w", page, err)
		}
		for _, f := range batch {
			files = append(files, DiffFile{
				Path:      f.Filename,
				Status:    f.Status,
				Additions: f.Additions,
				Deletions: f.Deletions,
				Patch:     f.Patch,
			})
		}
		if len(batch) < perPage {
			break
		}
	}
	return files, nil
}

// PublishComment posts body as an issue comment on the pull request.
func (c *RESTClient) PublishComment(ctx context.Context, ev EventContext, body string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.base, ev.Owner, ev.Repo, ev.PRNumber)
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPost, url, payload); err != nil {
		return fmt.Errorf("publish comment: %w", err)
	}
	return nil
}

func (c *RESTClient) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying hosting request", zap.String("url", url))
		}
		body, retryable, err := c.doOnce(ctx, method, url, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (c *RESTClient) doOnce(ctx context.Context, method, url string, payload []byte) (body []byte, retryable bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, false, nil
	}
	retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return nil, retryable, fmt.Errorf("hosting API %s %s: status %d", method, url, resp.StatusCode)
}
