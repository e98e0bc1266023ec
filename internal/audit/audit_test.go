package audit

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/status"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func snapshot(seq uint64, soil float64, pumpOn bool, events ...logic.Event) *status.Snapshot {
	temp := 26.04
	vpd := 1.23456
	return &status.Snapshot{
		Seq:                seq,
		SessionID:          "4b7e7c2a-2f4e-4d55-9a0c-2d4f0d0a1b11",
		Timestamp:          t0.Add(time.Duration(seq) * 1500 * time.Millisecond),
		Temperature:        &temp,
		VPD:                &vpd,
		ADCMedian:          540,
		SoilPct:            soil,
		SoilMA:             soil + 0.55,
		DeltaSoil:          -0.126,
		Probability:        0.08765,
		AITrigger:          true,
		Decision:           true,
		Reason:             logic.ReasonAI,
		Mode:               logic.ModeAI,
		PumpOn:             pumpOn,
		Phase:              logic.PhaseOn,
		RunSecondsThisHour: 6,
		Events:             events,
	}
}

func TestFromSnapshot(t *testing.T) {
	on := logic.Event{Type: logic.EventPumpOn, Cause: logic.CauseDemand}
	r := FromSnapshot(snapshot(3, 20.44, true, on))

	assert.Equal(t, uint64(3), r.Seq)
	assert.Equal(t, 20.4, r.SoilPct)
	assert.Equal(t, 21.0, r.SoilMA)
	assert.Equal(t, -0.13, r.DeltaSoil)
	assert.Equal(t, 0.088, r.Proba)
	require.NotNil(t, r.TempC)
	assert.Equal(t, 26.0, *r.TempC)
	assert.Nil(t, r.HumPct)
	require.NotNil(t, r.VPD)
	assert.Equal(t, 1.235, *r.VPD)
	assert.Equal(t, "PUMP_ON:DEMAND", r.Events)
	assert.Equal(t, "AI", r.Reason)
	assert.Equal(t, "ON", r.Phase)
}

func TestCSVSinkWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	s, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Deliver(context.Background(), snapshot(1, 30, false)))
	require.NoError(t, s.Close())

	// Reopening appends without a second header.
	s, err = NewCSVSink(path)
	require.NoError(t, err)
	degraded := snapshot(2, 29.5, true)
	degraded.Mode = logic.ModeEmergencyOnly
	degraded.Degraded = true
	degraded.RunSecondsThisHour = 42
	require.NoError(t, s.Deliver(context.Background(), degraded))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{
		"2026-05-04T10:00:01Z", "26", "", "1.235", "540", "30", "30.6",
		"-0.13", "0.088", "1", "AI", "0",
		"6", "AI", "0", "0",
	}, rows[1])
	assert.Equal(t, "1", rows[2][11], "pump_on column")
	assert.Equal(t, []string{"42", "EMERGENCY_ONLY", "1", "0"}, rows[2][12:])
}

func TestCSVSinkLeavesSoilEmptyBeforeFirstReading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	s, err := NewCSVSink(path)
	require.NoError(t, err)

	snap := snapshot(1, 0, false)
	snap.SoilUnknown = true
	snap.SensorFault = true
	require.NoError(t, s.Deliver(context.Background(), snap))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"", "", ""}, rows[1][5:8], "soil columns")
	assert.Equal(t, "1", rows[1][15], "sensor_fault column")
}

func TestStoreSQLite(t *testing.T) {
	store, err := Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	assert.Equal(t, "sql:sqlite", store.Name())

	ctx := context.Background()
	off := logic.Event{Type: logic.EventPumpOff, Cause: logic.CauseMaxOnCutoff}
	require.NoError(t, store.Deliver(ctx, snapshot(1, 25, true)))
	require.NoError(t, store.Deliver(ctx, snapshot(2, 24.9, false, off)))

	recs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].Seq, "newest first")
	assert.Equal(t, "PUMP_OFF:MAX_ON_CUTOFF", recs[0].Events)
	assert.False(t, recs[0].PumpOn)
	assert.True(t, recs[1].PumpOn)
	require.NotNil(t, recs[1].TempC)
	assert.Equal(t, 26.0, *recs[1].TempC)
	assert.Nil(t, recs[1].HumPct)
}

func TestStoreRejectsDuplicateCycle(t *testing.T) {
	store, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Deliver(ctx, snapshot(1, 25, false)))
	assert.Error(t, store.Deliver(ctx, snapshot(1, 25, false)))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestInfluxSink(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewInfluxSink(InfluxOptions{URL: srv.URL, Token: "t", Org: "garden", Bucket: "irrigation"})
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Deliver(context.Background(), snapshot(1, 22.2, true)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	line := bodies[0]
	assert.True(t, strings.HasPrefix(line, "irrigation,"), line)
	assert.Contains(t, line, "mode=AI")
	assert.Contains(t, line, "soil_pct=22.2")
	assert.Contains(t, line, "pump_on=true")
	assert.Contains(t, line, "temp_c=26")
	assert.NotContains(t, line, "hum_pct")
	assert.Contains(t, query, "bucket=irrigation")
	assert.Contains(t, query, "org=garden")
}

func TestInfluxSinkReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized","message":"bad token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink, err := NewInfluxSink(InfluxOptions{URL: srv.URL, Org: "o", Bucket: "b"})
	require.NoError(t, err)
	defer sink.Close()

	assert.Error(t, sink.Deliver(context.Background(), snapshot(1, 22.2, true)))
}

func TestNewInfluxSinkValidates(t *testing.T) {
	_, err := NewInfluxSink(InfluxOptions{URL: "http://localhost:8086"})
	assert.Error(t, err)
}
