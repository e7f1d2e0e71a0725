package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kurihiro0119/project-analytics/internal/domain"
	apperrors "github.com/kurihiro0119/project-analytics/internal/errors"
)

// Collector pulls raw records from one upstream system into the raw store
type Collector interface {
	// Source identifies the upstream system
	Source() domain.Source

	// Ingest fetches everything the collector is configured for and
	// returns the number of raw files written
	Ingest(ctx context.Context) (int, error)
}

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 1 << 10

// do sends req and decodes a JSON response into out. Non-2xx responses are
// mapped onto AppErrors.
func do(client *http.Client, req *http.Request, service string, out any) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", service, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, service); err != nil {
		return resp, err
	}
	if out == nil {
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp, fmt.Errorf("failed to decode %s response: %w", service, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, service string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperrors.NewUnauthorizedError(fmt.Sprintf("%s rejected credentials", service))
	case http.StatusTooManyRequests:
		return apperrors.NewRateLimitedError(fmt.Sprintf("%s rate limit exceeded", service))
	}
	return apperrors.NewUpstreamError(service, resp.StatusCode, string(body))
}
