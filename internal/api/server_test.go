package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dasim/internal/agent"
	"dasim/internal/config"
	"dasim/internal/engine"
	"dasim/internal/sim"
	"dasim/internal/store"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

func createTestSimulation(t *testing.T, rounds int) *sim.Simulation {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.Rounds = rounds
	cfg.Simulation.Seed = 11
	cfg.Simulation.RoundInterval = 0
	cfg.SFGK.ZeroIntel, cfg.SFGK.Chartists = 6, 2
	s, err := sim.New(cfg)
	require.NoError(t, err)
	return s
}

func step(t *testing.T, s *sim.Simulation, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Step()
		require.NoError(t, err)
	}
}

func get(t *testing.T, srv *Server, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func post(t *testing.T, srv *Server, path, body string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

// --- Tests ------------------------------------------------------------------

func TestServer_Health(t *testing.T) {
	srv := NewServer(createTestSimulation(t, 10), nil, []string{"*"})
	var body map[string]string
	assert.Equal(t, http.StatusOK, get(t, srv, "/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_LiveRun(t *testing.T) {
	s := createTestSimulation(t, 100)
	srv := NewServer(s, nil, []string{"*"})
	step(t, s, 60)

	var status StatusResponse
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/status", &status))
	assert.Equal(t, s.RunID(), status.RunID)
	assert.Equal(t, 60, status.Round)
	assert.False(t, status.Done)

	var snap engine.Snapshot
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/book", &snap))
	assert.Len(t, snap.Bids, snap.BidDepth)
	assert.Len(t, snap.Asks, snap.AskDepth)
	if snap.BestBid != nil {
		assert.Equal(t, *snap.BestBid, snap.Bids[0].Price)
	}

	var depth engine.Depth
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/depth", &depth))
	var queued int
	for i, level := range depth.Bids {
		if i > 0 {
			assert.Less(t, level.PriceLevel, depth.Bids[i-1].PriceLevel)
		}
		queued += len(level.Orders)
	}
	assert.Equal(t, snap.BidDepth, queued)

	var points []sim.PricePoint
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/history", &points))
	assert.Len(t, points, 60)
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/history?from=50", &points))
	assert.Len(t, points, 10)
	assert.Equal(t, 50, points[0].Round)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/history?from=x", nil))

	var results []agent.Result
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/agents", &results))
	assert.Len(t, results, 9)
}

func TestServer_SubmitOrder(t *testing.T) {
	s := createTestSimulation(t, 2)
	srv := NewServer(s, nil, []string{"*"})

	var report sim.RoundReport
	code := post(t, srv, "/api/v1/orders",
		`{"user":"user","type":"limit","side":"buy","price":10,"size":3,"lifetime":50}`, &report)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "user", report.Trader)
	assert.Equal(t, "rested", report.Outcome)
	require.NotNil(t, report.Order)
	assert.Equal(t, uint64(3), report.Order.Size)

	assert.Equal(t, http.StatusNotFound, post(t, srv, "/api/v1/orders", `{"user":"eve","type":"market","side":"sell","size":1}`, nil))
	assert.Equal(t, http.StatusBadRequest, post(t, srv, "/api/v1/orders", `{"user":"user","side":"up"}`, nil))

	step(t, s, 1)
	assert.Equal(t, http.StatusConflict, post(t, srv, "/api/v1/orders", `{"user":"user","type":"market","side":"sell","size":1}`, nil))
}

func TestServer_StoredRuns(t *testing.T) {
	s := createTestSimulation(t, 40)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, NewServer(s, nil, nil), "/api/v1/runs", nil))

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	rec := store.NewRecorder(st)
	require.NoError(t, rec.Start(s))
	step(t, s, 40)
	require.NoError(t, rec.Finish(s))

	srv := NewServer(s, st, nil)
	id := s.RunID().String()

	var runs []store.Run
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/runs", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, s.RunID(), runs[0].ID)

	var points []sim.PricePoint
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/runs/"+id+"/history", &points))
	assert.Len(t, points, 40)

	var results []agent.Result
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/runs/"+id+"/agents", &results))
	assert.Equal(t, s.Results(), results)

	assert.Equal(t, http.StatusOK, get(t, srv, "/api/v1/runs/"+id+"/trades", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/v1/runs/00000000-0000-0000-0000-000000000000", nil))
}

func TestServer_WebSocketStreamsRounds(t *testing.T) {
	s := createTestSimulation(t, 10)
	srv := NewServer(s, nil, []string{"*"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(ts.URL, "http://", "ws://", 1)+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	report, err := s.Step()
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Channel string          `json:"channel"`
		Data    sim.RoundReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, ChannelRounds, msg.Channel)
	assert.Equal(t, report.Round, msg.Data.Round)
	assert.Equal(t, report.Trader, msg.Data.Trader)
}
