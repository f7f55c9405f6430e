// Package content is the read-side client for the content layer: a
// paginated bulk enumeration used by full rebuilds, and single-record
// fetches used when resolving change-feed events. The index never writes
// back; the content layer stays the source of truth.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/supportal/kbsearch/internal/domain"
)

// Config holds client settings for the content layer's read API.
type Config struct {
	BaseURL  string
	PageSize int
	Timeout  time.Duration
}

// Client implements domain.ContentSource over the content layer's JSON
// API.
type Client struct {
	baseURL  string
	pageSize int
	http     *http.Client
}

var _ domain.ContentSource = (*Client)(nil)

// NewClient creates a content client.
func NewClient(cfg Config) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
	}
}

type recordsPage struct {
	Records    []domain.ContentRecord `json:"records"`
	NextCursor string                 `json:"next_cursor"`
}

// Enumerate streams every indexable record through fn, one page at a
// time, so a rebuild never holds the full corpus in memory.
func (c *Client) Enumerate(ctx context.Context, fn func(domain.ContentRecord) error) error {
	cursor := ""
	for {
		page, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) fetchPage(ctx context.Context, cursor string) (recordsPage, error) {
	u := fmt.Sprintf("%s/api/records?limit=%s", c.baseURL, strconv.Itoa(c.pageSize))
	if cursor != "" {
		u += "&cursor=" + url.QueryEscape(cursor)
	}

	var page recordsPage
	if err := c.getJSON(ctx, u, &page); err != nil {
		return recordsPage{}, fmt.Errorf("enumerate records: %w", err)
	}
	return page, nil
}

// Fetch retrieves a single content record by type and id.
func (c *Client) Fetch(ctx context.Context, t domain.DocType, id string) (domain.ContentRecord, error) {
	u := fmt.Sprintf("%s/api/records/%s/%s", c.baseURL, url.PathEscape(string(t)), url.PathEscape(id))

	var rec domain.ContentRecord
	if err := c.getJSON(ctx, u, &rec); err != nil {
		return domain.ContentRecord{}, fmt.Errorf("fetch record %s:%s: %w", t, id, err)
	}
	return rec, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
