package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("extract gh_stars: %w", NewEmptyTableError("extract_gh_stars"))

	assert.True(t, IsEmptyTable(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsRateLimited(err))
	assert.Equal(t, "extract gh_stars: EMPTY_TABLE: table extract_gh_stars is empty", err.Error())
}

func TestInternalErrorUnwraps(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewInternalError("failed to write table", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "INTERNAL_ERROR: failed to write table (disk full)", err.Error())
}

func TestUpstreamError(t *testing.T) {
	err := NewUpstreamError("github graphql", 502, "bad gateway")
	assert.Equal(t, ErrCodeUpstream, err.Code)
	assert.Contains(t, err.Error(), "status 502")
	assert.True(t, IsBadRequest(NewBadRequestError("nope")))
}
