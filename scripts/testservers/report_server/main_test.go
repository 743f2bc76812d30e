package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/torosent/tankwatch/internal/logger"
	"github.com/torosent/tankwatch/internal/snapshot"
	"github.com/torosent/tankwatch/internal/wire"
)

func dialReport(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, rep *report, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		rep.mu.Lock()
		defer rep.mu.Unlock()
		return len(rep.clients) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReportServerSnapshotMatchesPushedBatches(t *testing.T) {
	rep := newReport(logger.Nop())
	srv := httptest.NewServer(rep.routes())
	defer srv.Close()

	conn := dialReport(t, srv)
	waitForClients(t, rep, 1)

	frame, err := rep.tick(time.Unix(1700000000, 0), 0)
	require.NoError(t, err)
	rep.broadcast(frame)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := wire.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, wire.KindData, msg.Kind)
	require.Equal(t, rep.id, msg.Version)

	resp, err := http.Get(srv.URL + "/data.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	page, err := snapshot.Parse(body)
	require.NoError(t, err)
	require.Equal(t, rep.id, page.Version)
	st, err := page.Store()
	require.NoError(t, err)
	require.Len(t, st.ProjectQuantiles(), len(quantiles))
	require.Len(t, st.ProjectMonitoring(), len(hosts))
}

func TestReportServerReload(t *testing.T) {
	rep := newReport(logger.Nop())
	srv := httptest.NewServer(rep.routes())
	defer srv.Close()

	old := rep.id
	conn := dialReport(t, srv)
	waitForClients(t, rep, 1)

	resp, err := http.Post(srv.URL+"/reload", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEqual(t, old, out["uuid"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := wire.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, wire.KindReload, msg.Kind)
}

func TestReportServerRejectsWrongMethod(t *testing.T) {
	srv := httptest.NewServer(newReport(logger.Nop()).routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/reload")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
