package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarsweep/internal/framedb"
	"github.com/banshee-data/lidarsweep/internal/frames"
	"github.com/banshee-data/lidarsweep/internal/monitoring"
	"github.com/banshee-data/lidarsweep/internal/protocol"
)

type fakeDevice struct {
	info   *protocol.DeviceInfo
	health *protocol.Health
}

func (d fakeDevice) DeviceInfo() (protocol.DeviceInfo, bool) {
	if d.info == nil {
		return protocol.DeviceInfo{}, false
	}
	return *d.info, true
}

func (d fakeDevice) LastHealth() (protocol.Health, bool) {
	if d.health == nil {
		return protocol.Health{}, false
	}
	return *d.health, true
}

// squareFrame returns a frame of n points on a circle of radius 1000mm.
func squareFrame(seq int64, n int) *frames.LabelledFrame {
	pts := make([]frames.Point, n)
	for i := range pts {
		angle := 360 - float64(i+1)*360/float64(n)
		x, y := frames.PolarToCartesian(angle, 1000, 0.001)
		pts[i] = frames.Point{AngleDeg: angle, DistanceMM: 1000, X: x, Y: y}
	}
	return &frames.LabelledFrame{
		Frame:       frames.Frame{Points: pts, Start: 0, Finish: 100_000_000},
		FrameID:     "f-" + string(rune('0'+seq)),
		SensorID:    "lidar-0",
		Sequence:    seq,
		CompletedAt: time.Unix(1700000000, 0),
	}
}

func get(t *testing.T, ws *WebServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ws.Mux().ServeHTTP(rec, req)
	return rec
}

func TestWebServer_HealthHandler(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Address: ":0"})
	rec := get(t, ws, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "lidarsweep", body["service"])
}

func TestWebServer_StatusHandler(t *testing.T) {
	stats := monitoring.NewStreamStats()
	stats.AddBytes(500, 5)
	stats.AddSamples(100, 3)
	stats.AddFrame(90, 100_000_000)

	latest := NewLatestFrame()
	ws := NewWebServer(WebServerConfig{
		Address:   ":0",
		SensorID:  "lidar-0",
		SessionID: "sess-1",
		Stats:     stats,
		Latest:    latest,
		Device: fakeDevice{
			info:   &protocol.DeviceInfo{Model: 24, FirmwareMajor: 1, FirmwareMinor: 29, Hardware: 7, Serial: "ABC"},
			health: &protocol.Health{Status: protocol.HealthGood},
		},
	})

	rec := get(t, ws, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "lidar-0", resp.SensorID)
	assert.Equal(t, "sess-1", resp.SessionID)
	require.NotNil(t, resp.Device)
	assert.Equal(t, "ABC", resp.Device.Serial)
	require.NotNil(t, resp.Health)
	assert.Equal(t, protocol.HealthGood, resp.Health.Status)
	assert.Equal(t, int64(500), resp.Totals.BytesRead)
	assert.Equal(t, int64(1), resp.Totals.FramesEmitted)
	assert.Nil(t, resp.LastFrame)

	latest.Set(squareFrame(1, 36))
	rec = get(t, ws, "/api/status")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.LastFrame)
	assert.Equal(t, 36, resp.LastFrame.Points)
	assert.InDelta(t, 1000, resp.LastFrame.MeanDistanceMM, 1e-9)
	assert.InDelta(t, 100, resp.LastFrame.SweepMs, 1e-9)
}

func TestWebServer_StatusWithoutDevice(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Address: ":0", Device: fakeDevice{}})
	rec := get(t, ws, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"device"`)
	assert.NotContains(t, rec.Body.String(), `"health"`)
}

func TestWebServer_InvalidHTTPMethod(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Address: ":0"})
	for _, path := range []string{"/api/status", "/api/frame/latest", "/debug/frame", "/debug/frame.png"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		ws.Mux().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}

func TestWebServer_LatestFrame(t *testing.T) {
	latest := NewLatestFrame()
	ws := NewWebServer(WebServerConfig{Address: ":0", Latest: latest})

	for _, path := range []string{"/api/frame/latest", "/debug/frame", "/debug/frame.png"} {
		assert.Equal(t, http.StatusNotFound, get(t, ws, path).Code, path)
	}

	latest.Set(squareFrame(4, 72))

	rec := get(t, ws, "/api/frame/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var f frames.LabelledFrame
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&f))
	assert.Equal(t, int64(4), f.Sequence)
	assert.Len(t, f.Points, 72)

	rec = get(t, ws, "/debug/frame?max_points=200")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "echarts")
	assert.Contains(t, rec.Body.String(), "seq=4")

	rec = get(t, ws, "/debug/frame.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")))
}

func TestWebServer_StoredFrames(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Address: ":0"})
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/api/sessions").Code)
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/api/frames").Code)

	db, err := framedb.Open(filepath.Join(t.TempDir(), "frames.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sid, err := db.StartSession("lidar-0", protocol.DeviceInfo{Model: 24})
	require.NoError(t, err)
	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, db.RecordFrame(sid, squareFrame(seq, 10)))
	}

	ws = NewWebServer(WebServerConfig{Address: ":0", DB: db, SessionID: sid})

	rec := get(t, ws, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []framedb.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sid, sessions[0].SessionID)

	rec = get(t, ws, "/api/frames?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []FrameSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, int64(3), summaries[0].Sequence)
	assert.Equal(t, 10, summaries[0].Points)

	rec = get(t, ws, "/api/frames?session_id=other")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestWebServer_Plots(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Address: ":0"})
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/debug/plots/").Code)

	fp, err := NewFramePlotter(t.TempDir(), 1)
	require.NoError(t, err)
	path, err := fp.Observe(squareFrame(1, 36))
	require.NoError(t, err)

	ws = NewWebServer(WebServerConfig{Address: ":0", Plotter: fp})
	rec := get(t, ws, "/debug/plots/")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Files []string `json:"files"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	assert.Equal(t, []string{filepath.Base(path)}, listing.Files)

	rec = get(t, ws, "/debug/plots/"+filepath.Base(path))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	assert.Equal(t, http.StatusNotFound, get(t, ws, "/debug/plots/missing.png").Code)
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/debug/plots/notes.txt").Code)
}

func TestWebServer_StartStop(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Address: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()

	require.Eventually(t, func() bool {
		return ws.Addr() != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + ws.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWebServer_StartListenError(t *testing.T) {
	ws := NewWebServer(WebServerConfig{Address: "not-an-address"})
	assert.Error(t, ws.Start(context.Background()))
}
