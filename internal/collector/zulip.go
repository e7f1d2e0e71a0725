package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kurihiro0119/project-analytics/internal/domain"
)

// zulipCollector dumps members and stream messages from a Zulip realm
type zulipCollector struct {
	http     *http.Client
	baseURL  string
	email    string
	key      string
	raw      *RawStore
	pageSize int
}

// NewZulipCollector creates a collector for the realm at baseURL
func NewZulipCollector(baseURL, email, key string, raw *RawStore) Collector {
	return &zulipCollector{
		http:     &http.Client{},
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		email:    email,
		key:      key,
		raw:      raw,
		pageSize: 100,
	}
}

func (c *zulipCollector) Source() domain.Source {
	return domain.SourceZulip
}

type zulipResult struct {
	Result   string            `json:"result"`
	Msg      string            `json:"msg"`
	Members  []json.RawMessage `json:"members"`
	Messages []json.RawMessage `json:"messages"`
}

func (c *zulipCollector) Ingest(ctx context.Context) (int, error) {
	members, err := c.members(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.raw.WriteJSON(c.raw.ZulipFile(ZulipMember), members); err != nil {
		return 0, err
	}
	slog.Info("wrote zulip members", "count", len(members))

	messages, err := c.messages(ctx)
	if err != nil {
		return 1, err
	}
	if err := c.raw.WriteJSON(c.raw.ZulipFile(ZulipMsgs), messages); err != nil {
		return 1, err
	}
	slog.Info("wrote zulip messages", "count", len(messages))

	return 2, nil
}

func (c *zulipCollector) members(ctx context.Context) ([]json.RawMessage, error) {
	var res zulipResult
	if err := c.get(ctx, "/api/v1/users", nil, &res); err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	return res.Members, nil
}

// messages pages backwards from the newest message until a page holds no
// more than the anchor itself
func (c *zulipCollector) messages(ctx context.Context) ([]json.RawMessage, error) {
	var all []json.RawMessage
	anchor := "newest"
	seen := make(map[int64]bool)

	for {
		params := url.Values{}
		params.Set("anchor", anchor)
		params.Set("num_before", strconv.Itoa(c.pageSize))
		params.Set("num_after", "0")
		params.Set("apply_markdown", "false")
		params.Set("narrow", `[{"operator":"streams","operand":"public"}]`)

		var res zulipResult
		if err := c.get(ctx, "/api/v1/messages", params, &res); err != nil {
			return nil, fmt.Errorf("failed to get messages: %w", err)
		}

		for _, m := range res.Messages {
			id, err := messageID(m)
			if err != nil {
				return nil, err
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			all = append(all, m)
		}

		if len(res.Messages) <= 1 {
			return all, nil
		}
		first, err := messageID(res.Messages[0])
		if err != nil {
			return nil, err
		}
		anchor = strconv.FormatInt(first, 10)
	}
}

func messageID(m json.RawMessage) (int64, error) {
	var v struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(m, &v); err != nil {
		return 0, fmt.Errorf("failed to decode message id: %w", err)
	}
	return v.ID, nil
}

func (c *zulipCollector) get(ctx context.Context, path string, params url.Values, out *zulipResult) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.email, c.key)

	if _, err := do(c.http, req, "zulip", out); err != nil {
		return err
	}
	if out.Result != "success" {
		return fmt.Errorf("zulip returned %q: %s", out.Result, out.Msg)
	}
	return nil
}
