// Package monitor serves the sensor's HTTP status and debug views.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/lidarsweep/internal/framedb"
	"github.com/banshee-data/lidarsweep/internal/monitoring"
	"github.com/banshee-data/lidarsweep/internal/protocol"
	"github.com/banshee-data/lidarsweep/internal/version"
)

// DeviceSource reports what the driver last learned from the device.
type DeviceSource interface {
	DeviceInfo() (protocol.DeviceInfo, bool)
	LastHealth() (protocol.Health, bool)
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address   string
	SensorID  string
	SessionID string
	Stats     *monitoring.StreamStats
	Device    DeviceSource
	Latest    *LatestFrame
	Plotter   *FramePlotter // optional
	DB        *framedb.DB   // optional
}

// WebServer handles the HTTP interface for monitoring the sensor.
type WebServer struct {
	address   string
	sensorID  string
	sessionID string
	stats     *monitoring.StreamStats
	device    DeviceSource
	latest    *LatestFrame
	plotter   *FramePlotter
	db        *framedb.DB
	started   time.Time

	mux    *http.ServeMux
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	if config.Latest == nil {
		config.Latest = NewLatestFrame()
	}
	if config.Stats == nil {
		config.Stats = monitoring.NewStreamStats()
	}
	ws := &WebServer{
		address:   config.Address,
		sensorID:  config.SensorID,
		sessionID: config.SessionID,
		stats:     config.Stats,
		device:    config.Device,
		latest:    config.Latest,
		plotter:   config.Plotter,
		db:        config.DB,
		started:   time.Now(),
	}
	ws.mux = ws.setupRoutes()
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Mux returns the route table so other packages can attach debug routes.
func (ws *WebServer) Mux() *http.ServeMux { return ws.mux }

// Addr returns the bound listen address once Start is serving, else the
// configured address.
func (ws *WebServer) Addr() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.listener != nil {
		return ws.listener.Addr().String()
	}
	return ws.address
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	ws.listener = ln
	ws.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ln.Addr())
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}

	monitoring.Logf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/frame/latest", ws.handleLatestFrame)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/api/frames", ws.handleFrames)
	mux.HandleFunc("/debug/frame", ws.handleFrameChart)
	mux.HandleFunc("/debug/frame.png", ws.handleFramePNG)
	mux.HandleFunc("/debug/plots/", ws.handlePlots)

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "lidarsweep",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	SensorID   string                    `json:"sensor_id"`
	SessionID  string                    `json:"session_id,omitempty"`
	Version    string                    `json:"version"`
	UptimeSecs float64                   `json:"uptime_secs"`
	Device     *protocol.DeviceInfo      `json:"device,omitempty"`
	Health     *protocol.Health          `json:"health,omitempty"`
	Totals     monitoring.StreamSnapshot `json:"totals"`
	FrameRate  float64                   `json:"frame_rate"`
	SampleRate float64                   `json:"sample_rate"`
	LastFrame  *FrameSummary             `json:"last_frame,omitempty"`
	PlotsSaved int                       `json:"plots_saved,omitempty"`
}

func (ws *WebServer) status() StatusResponse {
	totals := ws.stats.Totals()
	resp := StatusResponse{
		SensorID:   ws.sensorID,
		SessionID:  ws.sessionID,
		Version:    version.Version,
		UptimeSecs: time.Since(ws.started).Seconds(),
		Totals:     totals,
		FrameRate:  totals.FrameRate(),
		SampleRate: totals.SampleRate(),
	}
	if ws.device != nil {
		if info, ok := ws.device.DeviceInfo(); ok {
			resp.Device = &info
		}
		if h, ok := ws.device.LastHealth(); ok {
			resp.Health = &h
		}
	}
	if f, ok := ws.latest.Get(); ok {
		s := Summarise(f)
		resp.LastFrame = &s
	}
	if ws.plotter != nil {
		resp.PlotsSaved = ws.plotter.Written()
	}
	return resp
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, ws.status())
}

func (ws *WebServer) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	f, ok := ws.latest.Get()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no frame yet")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	if ws.db == nil {
		writeJSONError(w, http.StatusNotFound, "frame store disabled")
		return
	}
	sessions, err := ws.db.ListSessions(queryLimit(r, 20))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleFrames lists stored frames, newest first.
// Query params:
//
//	session_id (optional, defaults to the running session)
//	limit (optional, default 10)
func (ws *WebServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	if ws.db == nil {
		writeJSONError(w, http.StatusNotFound, "frame store disabled")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = ws.sessionID
	}
	if sessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing session_id")
		return
	}
	stored, err := ws.db.ListFrames(sessionID, queryLimit(r, 10))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]FrameSummary, 0, len(stored))
	for _, sf := range stored {
		out = append(out, Summarise(&sf.LabelledFrame))
	}
	writeJSON(w, http.StatusOK, out)
}

func (ws *WebServer) handleFramePNG(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	f, ok := ws.latest.Get()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no frame yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := WriteFramePNG(w, f); err != nil {
		monitoring.Logf("failed to render frame png: %v", err)
	}
}

// handlePlots lists saved plots at /debug/plots/ and serves one file at
// /debug/plots/<name>.
func (ws *WebServer) handlePlots(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	if ws.plotter == nil {
		writeJSONError(w, http.StatusNotFound, "plotting disabled")
		return
	}
	name := r.URL.Path[len("/debug/plots/"):]
	if name == "" {
		files, err := ws.plotter.Files()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"dir": ws.plotter.Dir(), "files": files})
		return
	}
	path, err := ws.plotter.Resolve(name)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "plot not found")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}
