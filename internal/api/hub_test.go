package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/project-analytics/internal/aggregator"
)

type countingAggregator struct {
	aggregator.Aggregator
	invalidations atomic.Int64
}

func (c *countingAggregator) Invalidate() {
	c.invalidations.Add(1)
}

func dial(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestRefreshBroadcasts(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	agg := &countingAggregator{Aggregator: f.agg}
	r := NewRefresher(agg, f.hub, nil, time.Minute, nil)
	require.NoError(t, r.Refresh(context.Background()))
	assert.EqualValues(t, 1, agg.invalidations.Load())

	var ev Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "refresh", ev.Type)
}

func TestRefreshReloadsAfterFailedETL(t *testing.T) {
	f := newFixture(t)
	agg := &countingAggregator{Aggregator: f.agg}

	boom := errors.New("boom")
	r := NewRefresher(agg, f.hub, func(context.Context) error { return boom }, time.Minute, nil)
	assert.ErrorIs(t, r.Refresh(context.Background()), boom)
	assert.EqualValues(t, 1, agg.invalidations.Load())
}

func TestRefresherSchedules(t *testing.T) {
	f := newFixture(t)
	agg := &countingAggregator{Aggregator: f.agg}

	var etlRuns atomic.Int64
	etl := func(context.Context) error {
		etlRuns.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRefresher(agg, f.hub, etl, time.Second, nil)
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	require.Eventually(t, func() bool { return agg.invalidations.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, etlRuns.Load(), int64(1))
}

func TestHubDropsClosedClients(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Broadcast(Event{Type: "refresh"})
}
