package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"createdAt":       "created_at",
		"starredAt":       "starred_at",
		"2Path":           "2_path",
		"UserAgent":       "user_agent",
		"Referrer scheme": "referrer_scheme",
		"Screen size":     "screen_size",
		"FirstVisit":      "first_visit",
		"HTTPServer":      "http_server",
		"already_snake":   "already_snake",
		"Date":            "date",
		"user_id":         "user_id",
		"  padded  ":      "padded",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}
