package collector

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kurihiro0119/project-analytics/internal/domain"
)

// DocsOptions tunes export polling. Zero values take defaults.
type DocsOptions struct {
	// InitialDelay precedes the first status check; negative disables it
	InitialDelay time.Duration
	PollInterval time.Duration
	MaxPolls     int
}

// docsCollector downloads a GoatCounter CSV export
type docsCollector struct {
	http    *http.Client
	baseURL string
	token   string
	raw     *RawStore
	opts    DocsOptions
}

// NewDocsCollector creates a collector for the GoatCounter site at baseURL
func NewDocsCollector(baseURL, token string, raw *RawStore, opts DocsOptions) Collector {
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	} else if opts.InitialDelay == 0 {
		opts.InitialDelay = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 360
	}
	return &docsCollector{
		http:    &http.Client{},
		baseURL: strings.TrimSuffix(baseURL, "/") + "/api/v0/export",
		token:   token,
		raw:     raw,
		opts:    opts,
	}
}

func (c *docsCollector) Source() domain.Source {
	return domain.SourceDocs
}

type goatExport struct {
	ID         int64   `json:"id"`
	FinishedAt *string `json:"finished_at"`
}

func (c *docsCollector) Ingest(ctx context.Context) (int, error) {
	var export goatExport
	req, err := c.request(ctx, http.MethodPost, c.baseURL, []byte("{}"))
	if err != nil {
		return 0, err
	}
	if _, err := do(c.http, req, "goatcounter", &export); err != nil {
		return 0, fmt.Errorf("failed to start export: %w", err)
	}
	slog.Info("started docs export", "id", export.ID)

	if err := c.waitFinished(ctx, export.ID); err != nil {
		return 0, err
	}

	req, err = c.request(ctx, http.MethodGet, fmt.Sprintf("%s/%d/download", c.baseURL, export.ID), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download export: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "goatcounter"); err != nil {
		return 0, fmt.Errorf("failed to download export: %w", err)
	}

	path := c.raw.DocsFile()
	if err := c.raw.WriteFile(path, resp.Body); err != nil {
		return 0, err
	}
	slog.Info("wrote docs export", "path", path)
	return 1, nil
}

// waitFinished polls the export until finished_at is set
func (c *docsCollector) waitFinished(ctx context.Context, id int64) error {
	delay := c.opts.InitialDelay
	for i := 0; i < c.opts.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = c.opts.PollInterval

		req, err := c.request(ctx, http.MethodGet, fmt.Sprintf("%s/%d", c.baseURL, id), nil)
		if err != nil {
			return err
		}
		var status goatExport
		if _, err := do(c.http, req, "goatcounter", &status); err != nil {
			return fmt.Errorf("failed to check export status: %w", err)
		}
		if status.FinishedAt != nil && *status.FinishedAt != "" {
			return nil
		}
		slog.Debug("docs export pending", "id", id)
	}
	return fmt.Errorf("export %d did not finish after %d polls", id, c.opts.MaxPolls)
}

func (c *docsCollector) request(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
