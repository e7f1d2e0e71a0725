package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zulipServer(t *testing.T, total int) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		user, key, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "key", key)
		json.NewEncoder(w).Encode(map[string]any{
			"result":  "success",
			"members": []map[string]any{{"user_id": 1, "is_bot": false}, {"user_id": 2, "is_bot": true}},
		})
	})
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		before, _ := strconv.Atoi(r.URL.Query().Get("num_before"))
		anchor := total
		if a := r.URL.Query().Get("anchor"); a != "newest" {
			anchor, _ = strconv.Atoi(a)
		}
		var msgs []map[string]any
		for id := max(1, anchor-before); id <= anchor; id++ {
			msgs = append(msgs, map[string]any{"id": id, "stream_id": 1})
		}
		json.NewEncoder(w).Encode(map[string]any{"result": "success", "messages": msgs})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestZulipIngest(t *testing.T) {
	srv := zulipServer(t, 250)
	raw := NewRawStore(t.TempDir())
	c := NewZulipCollector(srv.URL+"/", "bot@example.com", "key", raw)

	n, err := c.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var members []map[string]any
	data, err := os.ReadFile(raw.ZulipFile(ZulipMember))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &members))
	assert.Len(t, members, 2)

	var messages []struct {
		ID int `json:"id"`
	}
	data, err = os.ReadFile(raw.ZulipFile(ZulipMsgs))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &messages))
	assert.Len(t, messages, 250)

	seen := map[int]bool{}
	for _, m := range messages {
		assert.False(t, seen[m.ID], "duplicate message %d", m.ID)
		seen[m.ID] = true
	}
}

func TestZulipRejectsFailedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"error","msg":"invalid key"}`))
	}))
	defer srv.Close()

	c := NewZulipCollector(srv.URL, "bot@example.com", "key", NewRawStore(t.TempDir()))
	_, err := c.Ingest(context.Background())
	assert.ErrorContains(t, err, "invalid key")
}
