package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker, *Hub) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		IntervalMs:    1500,
		HeartbeatMs:   900000,
		Broker:        "tcp://192.168.1.200:1883",
		HTTPAddr:      ":8080",
		RelayPin:      17,
		Threshold:     0.06,
		EmergencyPct:  20,
		MaxOnSec:      60,
		MaxMinPerHour: 8,
	}
	tr := status.NewTracker(start, "session-1", cfg)
	hub := NewHub()
	srv := New(":0", tr, hub)
	ts := httptest.NewServer(srv.Engine())
	t.Cleanup(ts.Close)
	return ts, tr, hub
}

func testSnapshot(seq uint64, ts time.Time) *status.Snapshot {
	temp := 22.5
	return &status.Snapshot{
		Seq:                seq,
		SessionID:          "session-1",
		Timestamp:          ts,
		Temperature:        &temp,
		ADCMedian:          540,
		SoilPct:            20.4,
		SoilMA:             21.0,
		DeltaSoil:          -0.2,
		Probability:        0.31,
		AITrigger:          true,
		Decision:           true,
		Reason:             logic.ReasonAI,
		Mode:               logic.ModeAI,
		PumpOn:             true,
		Phase:              logic.PhaseOn,
		RunSecondsThisHour: 12,
		Counts:             logic.EventCounts{PumpOn: 4, PumpOff: 3, MaxOnCutoffs: 1},
	}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.Store(testSnapshot(3, time.Now()))
	tr.SetMQTTConnected(true)

	resp, body := get(t, ts.URL+"/index.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal([]byte(body), &sj))
	assert.True(t, sj.Status.Ready)
	assert.True(t, sj.Status.MQTT.Connected)
	assert.Equal(t, "tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	assert.Equal(t, "session-1", sj.Status.SessionID)
	require.NotNil(t, sj.Status.Reading)
	assert.Equal(t, uint64(3), sj.Status.Reading.Seq)
	assert.Equal(t, 20.4, sj.Status.Reading.SoilPct)
	assert.Equal(t, "AI", sj.Status.Reading.Reason)
	assert.Equal(t, 1, sj.Status.Reading.Counts.MaxOnCutoff)
	assert.Equal(t, int64(1500), sj.Status.Config.IntervalMs)
}

func TestJSONEndpointBeforeFirstCycle(t *testing.T) {
	ts, _, _ := newTestServer(t)

	_, body := get(t, ts.URL+"/index.json")
	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal([]byte(body), &sj))
	assert.False(t, sj.Status.Ready)
	assert.Nil(t, sj.Status.Reading)
}

func TestHTMLEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.Store(testSnapshot(1, time.Now()))

	for _, path := range []string{"/", "/index.html"} {
		resp, body := get(t, ts.URL+path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"), path)
		assert.Contains(t, body, "Irrigation Controller")
		assert.Contains(t, body, "20.4%")
		assert.Contains(t, body, "22.5 °C")
		assert.Contains(t, body, `class="on"`)
		assert.Contains(t, body, "n/a", "absent humidity should render as n/a")
		assert.Contains(t, body, "BCM 17 active-low")
	}
}

func TestHTMLWaitingForFirstCycle(t *testing.T) {
	ts, _, _ := newTestServer(t)
	_, body := get(t, ts.URL+"/")
	assert.Contains(t, body, "Waiting for the first cycle")
}

func TestUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, _ := get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts, tr, _ := newTestServer(t)

	resp, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, "starting")

	tr.Store(testSnapshot(1, time.Now()))
	resp, body = get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"ok"`)

	tr.Store(testSnapshot(2, time.Now().Add(-time.Minute)))
	resp, body = get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, "stale")
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) status.SnapshotJSON {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame status.SnapshotJSON
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketSendsLatestThenUpdates(t *testing.T) {
	ts, tr, hub := newTestServer(t)
	tr.Store(testSnapshot(1, time.Now()))

	conn := dialWS(t, ts)
	first := readFrame(t, conn)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, 20.4, first.SoilPct)

	waitForClients(t, hub, 1)
	require.NoError(t, hub.Deliver(context.Background(), testSnapshot(2, time.Now())))

	next := readFrame(t, conn)
	assert.Equal(t, uint64(2), next.Seq)
	assert.Equal(t, "ON", next.Phase)
}

func TestWebSocketClientRemovedOnClose(t *testing.T) {
	ts, _, hub := newTestServer(t)

	conn := dialWS(t, ts)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHubBroadcastKeepsNewestFrame(t *testing.T) {
	hub := NewHub()
	c := hub.subscribe()

	hub.Broadcast([]byte("1"))
	hub.Broadcast([]byte("2"))
	hub.Broadcast([]byte("3"))

	select {
	case f := <-c.send:
		assert.Equal(t, "3", string(f))
	default:
		t.Fatal("expected a pending frame")
	}
	select {
	case f := <-c.send:
		t.Fatalf("expected one pending frame, got another: %s", f)
	default:
	}

	hub.unsubscribe(c)
	assert.Equal(t, 0, hub.Clients())
}

func TestServeStopsOnCancel(t *testing.T) {
	tr := status.NewTracker(time.Now(), "", status.Config{})
	srv := New("127.0.0.1:0", tr, NewHub())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
