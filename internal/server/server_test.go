package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/frame-audio-service/internal/audio"
	"github.com/skypro1111/frame-audio-service/internal/config"
	"github.com/skypro1111/frame-audio-service/internal/metrics"
	"github.com/skypro1111/frame-audio-service/internal/protocol"
	"github.com/skypro1111/frame-audio-service/internal/reassembly"
	"github.com/skypro1111/frame-audio-service/internal/session"
)

// Prometheus collectors register against the default registry, so the test
// binary must create them exactly once.
var (
	testMetrics     *metrics.Metrics
	testMetricsOnce sync.Once
)

func sharedMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = metrics.NewMetrics()
	})
	return testMetrics
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingSink retains every frame it receives. Safe for concurrent use:
// connection handlers deliver frames while the test polls.
type recordingSink struct {
	mu     sync.Mutex
	frames []*reassembly.ReassembledFrame
}

func (r *recordingSink) HandleFrame(sessionID uint64, frame *reassembly.ReassembledFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingSink) frame(i int) *reassembly.ReassembledFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[i]
}

func testServerConfig(maxConnections int) *config.ServerConfig {
	return &config.ServerConfig{
		TCPPort:        0, // let the OS pick a free port
		BindAddress:    "127.0.0.1",
		ReadBufferSize: 4096,
		MaxConnections: maxConnections,
		IdleTimeout:    60,
	}
}

func startTestServer(t *testing.T, sink *recordingSink, maxConnections int) (*TCPServer, *session.Manager) {
	t.Helper()

	var pipelineSink audio.Sink = &audio.DiscardSink{}
	if sink != nil {
		pipelineSink = sink
	}

	mgr := session.NewManager(testLogger(), time.Minute, session.ManagerConfig{
		Reassembly: reassembly.Config{MaxPendingFrames: 8, FrameTimeout: time.Minute},
		Sink:       pipelineSink,
	})
	t.Cleanup(mgr.Stop)

	srv := NewTCPServer(testServerConfig(maxConnections), testLogger(), mgr, sharedMetrics())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return srv, mgr
}

func dialTestServer(t *testing.T, srv *TCPServer) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMTUAnnouncement reads and decodes the Control message the server sends
// on accept.
func readMTUAnnouncement(t *testing.T, conn net.Conn) uint16 {
	t.Helper()

	buf := make([]byte, protocol.MinMessageSize+protocol.MTUPayloadSize)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Failed to read MTU announcement: %v", err)
	}

	msg, err := protocol.Decode(buf)
	if err != nil {
		t.Fatalf("Failed to decode MTU announcement: %v", err)
	}
	if msg.Type != protocol.TypeControl {
		t.Fatalf("Expected Control announcement, got %s", protocol.TypeName(msg.Type))
	}

	mtu, ok := protocol.ParseMTU(msg.Payload)
	if !ok {
		t.Fatalf("Announcement payload is not an MTU: %v", msg.Payload)
	}
	return mtu
}

func encodeDataSegment(t *testing.T, frameID uint16, segmentID, total uint8, data []byte) []byte {
	t.Helper()

	payload, err := protocol.EncodeSegment(frameID, segmentID, total, data)
	if err != nil {
		t.Fatalf("EncodeSegment failed: %v", err)
	}
	msg, err := protocol.Encode(protocol.TypeData, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestTCPServerDeliversFrames(t *testing.T) {
	sink := &recordingSink{}
	srv, _ := startTestServer(t, sink, 4)

	conn := dialTestServer(t, srv)

	mtu := readMTUAnnouncement(t, conn)
	if mtu != 4096 {
		t.Errorf("Expected announced MTU 4096, got %d", mtu)
	}

	// Two segments completing one frame, written in two chunks.
	if _, err := conn.Write(encodeDataSegment(t, 7, 0, 2, []byte{0xAA, 0xBB})); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := conn.Write(encodeDataSegment(t, 7, 1, 2, []byte{0xCC})); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return sink.frameCount() == 1 })

	frame := sink.frame(0)
	if frame.FrameID != 7 {
		t.Errorf("Expected frame ID 7, got %d", frame.FrameID)
	}
	if string(frame.Payload) != "\xAA\xBB\xCC" {
		t.Errorf("Unexpected frame payload: %x", frame.Payload)
	}
}

func TestTCPServerTracksSessions(t *testing.T) {
	srv, mgr := startTestServer(t, nil, 4)

	conn := dialTestServer(t, srv)
	readMTUAnnouncement(t, conn)

	waitFor(t, 2*time.Second, func() bool { return mgr.GetActiveSessionCount() == 1 })

	stats := srv.GetStatistics()
	if stats.ConnectionsAccepted != 1 {
		t.Errorf("Expected 1 accepted connection, got %d", stats.ConnectionsAccepted)
	}

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return mgr.GetActiveSessionCount() == 0 })
}

func TestTCPServerRejectsOverLimit(t *testing.T) {
	srv, _ := startTestServer(t, nil, 1)

	first := dialTestServer(t, srv)
	readMTUAnnouncement(t, first)

	second := dialTestServer(t, srv)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Rejected connections are closed without an MTU announcement.
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err != io.EOF {
		t.Errorf("Expected EOF on rejected connection, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return srv.GetStatistics().ConnectionsRejected == 1 })
}

func newTestHTTPServer(t *testing.T) (*HTTPServer, *session.Manager) {
	t.Helper()

	cfg := &config.Config{
		Server: *testServerConfig(4),
		HTTP: config.HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Reassembly: config.ReassemblyConfig{MaxPendingFrames: 8, FrameTimeout: 5},
		Output:     config.OutputConfig{Mode: config.SinkDiscard},
		Logging:    config.LoggingConfig{Level: "error", Format: "text"},
	}

	mgr := session.NewManager(testLogger(), time.Minute, session.ManagerConfig{
		Reassembly: reassembly.Config{MaxPendingFrames: 8, FrameTimeout: time.Minute},
		Sink:       &audio.DiscardSink{},
	})
	t.Cleanup(mgr.Stop)

	tcpSrv := NewTCPServer(&cfg.Server, testLogger(), mgr, sharedMetrics())
	httpSrv := NewHTTPServer(cfg.HTTP, testLogger(), cfg, mgr, tcpSrv, sharedMetrics())
	return httpSrv, mgr
}

func doRequest(t *testing.T, h *HTTPServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHTTPHealth(t *testing.T) {
	h, _ := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", health["status"])
	}
}

func TestHTTPSessions(t *testing.T) {
	h, mgr := newTestHTTPServer(t)

	sess := mgr.CreateSession("10.0.0.1:5000")

	rec := doRequest(t, h, http.MethodGet, "/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var response struct {
		TotalSessions int            `json:"total_sessions"`
		Sessions      []session.Info `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if response.TotalSessions != 1 {
		t.Fatalf("Expected 1 session, got %d", response.TotalSessions)
	}
	if response.Sessions[0].SessionID != sess.ID {
		t.Errorf("Expected session ID %d, got %d", sess.ID, response.Sessions[0].SessionID)
	}
}

func TestHTTPSessionDetail(t *testing.T) {
	h, mgr := newTestHTTPServer(t)

	sess := mgr.CreateSession("10.0.0.1:5000")

	rec := doRequest(t, h, http.MethodGet, "/sessions/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var info session.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if info.SessionID != sess.ID {
		t.Errorf("Expected session ID %d, got %d", sess.ID, info.SessionID)
	}
	if info.RemoteAddr != "10.0.0.1:5000" {
		t.Errorf("Unexpected remote addr: %s", info.RemoteAddr)
	}
}

func TestHTTPSessionDetailErrors(t *testing.T) {
	h, _ := newTestHTTPServer(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "missing ID", path: "/sessions/", code: http.StatusBadRequest},
		{name: "non-numeric ID", path: "/sessions/abc", code: http.StatusBadRequest},
		{name: "unknown session", path: "/sessions/999", code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, tt.path)
			if rec.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, rec.Code)
			}
		})
	}
}

func TestHTTPConfigOmitsNATSURL(t *testing.T) {
	h, _ := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodGet, "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var cfg map[string]map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}

	nats, ok := cfg["output"]["nats"].(map[string]interface{})
	if !ok {
		t.Fatal("Missing output.nats section")
	}
	if _, present := nats["url"]; present {
		t.Error("NATS URL must not be exposed")
	}
}

func TestHTTPStats(t *testing.T) {
	h, _ := newTestHTTPServer(t)

	rec := doRequest(t, h, http.MethodGet, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var stats map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	for _, key := range []string{"uptime", "tcp", "pipeline", "sessions"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("Missing %q in stats response", key)
		}
	}
}

func TestHTTPMethodNotAllowed(t *testing.T) {
	h, _ := newTestHTTPServer(t)

	for _, path := range []string{"/health", "/sessions", "/config", "/stats"} {
		rec := doRequest(t, h, http.MethodPost, path)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected 405, got %d", path, rec.Code)
		}
	}
}
