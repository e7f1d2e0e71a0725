package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastRange(t *testing.T) {
	now := time.Date(2024, time.March, 29, 12, 0, 0, 0, time.UTC)

	r, err := LastRange("28d", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2024, time.March, 29, 23, 59, 59, 999999000, time.UTC), r.End)
	assert.Equal(t, 28, r.Days())

	// stable for the whole day
	later, err := LastRange("28d", now.Add(11*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, r, later)

	r, err = LastRange("all", now)
	require.NoError(t, err)
	assert.Equal(t, Epoch, r.Start)

	for _, bad := range []string{"", "28", "0d", "-3d", "xd", "3d", "1000d"} {
		_, err := LastRange(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestLookupTable(t *testing.T) {
	info, ok := LookupTable("pypi_downloads")
	require.True(t, ok)
	assert.Equal(t, "downloads", info.ValueColumn)
	assert.True(t, info.AllowsGroup("version"))
	assert.False(t, info.AllowsGroup("downloads; DROP TABLE x"))

	_, ok = LookupTable("nope")
	assert.False(t, ok)
}

func TestTablesForSource(t *testing.T) {
	assert.Len(t, TablesForSource(SourceGitHub), 6)
	assert.Len(t, TablesForSource(SourceZulip), 2)

	src, err := ParseSource(" Zulip ")
	require.NoError(t, err)
	assert.Equal(t, SourceZulip, src)

	_, err = ParseSource("slack")
	assert.Error(t, err)
}
