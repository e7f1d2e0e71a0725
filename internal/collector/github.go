package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/project-analytics/internal/domain"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

const defaultGraphQLURL = "https://api.github.com/graphql"

// GitHubOptions tunes the GitHub collector. Zero values take defaults.
type GitHubOptions struct {
	GraphQLURL  string
	RESTURL     string // go-github base URL, used for the rate limit seed
	PageSize    int
	Concurrency int
	MinDelay    time.Duration
}

func (o *GitHubOptions) setDefaults() {
	if o.GraphQLURL == "" {
		o.GraphQLURL = defaultGraphQLURL
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MinDelay <= 0 {
		o.MinDelay = 100 * time.Millisecond
	}
}

// githubCollector implements Collector using the GitHub GraphQL API
type githubCollector struct {
	http        *http.Client
	client      *github.Client
	rateLimiter RateLimiter
	raw         *RawStore
	repos       []string
	opts        GitHubOptions
}

// NewGitHubCollector creates a new GitHub collector for owner/name repos
func NewGitHubCollector(token string, repos []string, raw *RawStore, opts GitHubOptions) (Collector, error) {
	opts.setDefaults()

	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)
	if opts.RESTURL != "" {
		base, err := url.Parse(strings.TrimSuffix(opts.RESTURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub REST URL: %w", err)
		}
		client.BaseURL = base
	}

	for _, repo := range repos {
		if _, _, err := splitRepo(repo); err != nil {
			return nil, err
		}
	}

	return &githubCollector{
		http:        tc,
		client:      client,
		rateLimiter: NewRateLimiter(opts.MinDelay),
		raw:         raw,
		repos:       repos,
		opts:        opts,
	}, nil
}

func (c *githubCollector) Source() domain.Source {
	return domain.SourceGitHub
}

// Ingest fetches every query for every repository. A failing repo/query
// pair is logged and skipped; Ingest only fails when nothing succeeded.
func (c *githubCollector) Ingest(ctx context.Context) (int, error) {
	c.seedRateLimit(ctx)

	var pages, failures atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, repo := range c.repos {
		owner, name, _ := splitRepo(repo)
		for _, q := range GitHubQueries {
			g.Go(func() error {
				n, err := c.fetchAll(ctx, owner, name, q)
				pages.Add(int64(n))
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					failures.Add(1)
					slog.Warn("github query failed", "repo", owner+"/"+name, "query", q.Name, "error", err)
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return int(pages.Load()), err
	}
	total := int64(len(c.repos) * len(GitHubQueries))
	if total > 0 && failures.Load() == total {
		return 0, fmt.Errorf("failed to ingest GitHub data: all %d queries failed", total)
	}
	return int(pages.Load()), nil
}

// seedRateLimit reads the current GraphQL budget. Failure is not fatal:
// response headers correct the budget after the first call.
func (c *githubCollector) seedRateLimit(ctx context.Context) {
	limits, _, err := c.client.RateLimits(ctx)
	if err != nil {
		slog.Warn("failed to read GitHub rate limits", "error", err)
		return
	}
	if limits.GraphQL != nil {
		c.rateLimiter.UpdateLimit(limits.GraphQL.Remaining, limits.GraphQL.Reset.Time)
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type connection struct {
	Edges    json.RawMessage `json:"edges"`
	PageInfo struct {
		EndCursor   string `json:"endCursor"`
		HasNextPage bool   `json:"hasNextPage"`
	} `json:"pageInfo"`
}

// fetchAll walks a connection page by page, writing each page's edges
func (c *githubCollector) fetchAll(ctx context.Context, owner, repo string, q graphQLQuery) (int, error) {
	vars := map[string]any{
		"owner":     owner,
		"repo":      repo,
		"num_items": c.opts.PageSize,
		"cursor":    nil,
	}

	for page := 1; ; page++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return page - 1, err
		}

		conn, err := c.fetchPage(ctx, q, vars)
		if err != nil {
			return page - 1, fmt.Errorf("page %d: %w", page, err)
		}

		path := c.raw.GitHubPage(repo, q.Name, page)
		if err := c.raw.WriteJSON(path, conn.Edges); err != nil {
			return page - 1, err
		}
		slog.Debug("wrote github page", "repo", owner+"/"+repo, "query", q.Name, "page", page)

		if !conn.PageInfo.HasNextPage {
			return page, nil
		}
		vars["cursor"] = conn.PageInfo.EndCursor
	}
}

func (c *githubCollector) fetchPage(ctx context.Context, q graphQLQuery, vars map[string]any) (*connection, error) {
	body, err := json.Marshal(graphQLRequest{Query: q.Query, Variables: vars})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.GraphQLURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out graphQLResponse
	resp, err := do(c.http, req, "github", &out)
	if resp != nil {
		c.updateRateLimitFromHeaders(resp.Header)
	}
	if err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return nil, apperrors.NewUpstreamError("github", resp.StatusCode, strings.Join(msgs, "; "))
	}

	return extractConnection(out.Data, append([]string{"repository"}, q.Path...))
}

// extractConnection follows path through the response data
func extractConnection(data json.RawMessage, path []string) (*connection, error) {
	cur := data
	for _, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		next, ok := obj[key]
		if !ok || string(next) == "null" {
			return nil, apperrors.NewNotFoundError(key)
		}
		cur = next
	}

	var conn connection
	if err := json.Unmarshal(cur, &conn); err != nil {
		return nil, fmt.Errorf("failed to decode connection: %w", err)
	}
	if len(conn.Edges) == 0 || string(conn.Edges) == "null" {
		conn.Edges = json.RawMessage("[]")
	}
	return &conn, nil
}

// updateRateLimitFromHeaders updates the rate limiter from API response headers
func (c *githubCollector) updateRateLimitFromHeaders(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	c.rateLimiter.UpdateLimit(remaining, time.Unix(reset, 0))
}

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", apperrors.NewBadRequestError(fmt.Sprintf("repository %q must be owner/name", repo))
	}
	return owner, name, nil
}
