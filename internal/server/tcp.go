package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/frame-audio-service/internal/config"
	"github.com/skypro1111/frame-audio-service/internal/metrics"
	"github.com/skypro1111/frame-audio-service/internal/protocol"
	"github.com/skypro1111/frame-audio-service/internal/session"
)

const writeTimeout = 5 * time.Second

// TCPServer accepts framed audio connections and feeds each connection's
// byte stream through its own session pipeline.
type TCPServer struct {
	listener net.Listener
	config   *config.ServerConfig
	logger   *slog.Logger
	sessions *session.Manager
	metrics  *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Connection accounting. conns is closed wholesale on Stop to unblock
	// handler read loops.
	conns               map[net.Conn]struct{}
	connectionsAccepted uint64
	connectionsRejected uint64
	chunksProcessed     uint64
	mu                  sync.RWMutex
}

// NewTCPServer creates a new TCP ingest server instance.
func NewTCPServer(cfg *config.ServerConfig, logger *slog.Logger, sessions *session.Manager, m *metrics.Metrics) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:   cfg,
		logger:   logger,
		sessions: sessions,
		metrics:  m,
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for TCP connections.
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.TCPPort)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP: %w", err)
	}
	s.listener = listener

	s.logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
		slog.Int("read_buffer_size", s.config.ReadBufferSize),
		slog.Int("max_connections", s.config.MaxConnections),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the address the server is listening on. Only valid after
// Start has returned successfully.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop gracefully stops the TCP server and waits for connection handlers
// to finish.
func (s *TCPServer) Stop() error {
	s.logger.Info("Stopping TCP server...")

	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("Error closing TCP listener", slog.String("error", err.Error()))
		}
	}

	// Unblock every handler read loop.
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.RLock()
	accepted := s.connectionsAccepted
	rejected := s.connectionsRejected
	chunks := s.chunksProcessed
	s.mu.RUnlock()

	s.logger.Info("TCP server stopped",
		slog.Uint64("connections_accepted", accepted),
		slog.Uint64("connections_rejected", rejected),
		slog.Uint64("chunks_processed", chunks),
	)

	return nil
}

// acceptLoop is the main connection accepting loop.
func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to accept connection", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		if len(s.conns) >= s.config.MaxConnections {
			s.connectionsRejected++
			s.mu.Unlock()

			s.logger.Warn("Connection limit reached, rejecting connection",
				slog.String("remote_addr", conn.RemoteAddr().String()),
				slog.Int("max_connections", s.config.MaxConnections),
			)
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.connectionsAccepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection runs the read loop for one accepted connection.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	sess := s.sessions.CreateSession(conn.RemoteAddr().String())
	s.metrics.RecordSessionCreated(s.sessions.GetActiveSessionCount())

	defer func() {
		duration := time.Since(sess.StartTime)
		s.sessions.RemoveSession(sess.ID)
		s.metrics.RecordSessionClosed(s.sessions.GetActiveSessionCount(), duration.Seconds())
	}()

	if err := s.announceMTU(conn); err != nil {
		s.logger.Error("Failed to announce MTU",
			slog.Uint64("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	buffer := make([]byte, s.config.ReadBufferSize)
	idleTimeout := s.config.GetIdleTimeout()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			s.logger.Error("Failed to set read deadline",
				slog.Uint64("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
			return
		}

		n, err := conn.Read(buffer)
		if n > 0 {
			report := sess.HandleChunk(buffer[:n])
			s.recordReport(n, report)
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Info("Closing idle connection",
					slog.Uint64("session_id", sess.ID),
					slog.Duration("idle_timeout", idleTimeout),
				)
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// io.EOF means the peer closed cleanly; anything else is a
			// transport failure. Either way the session is over.
			s.logger.Debug("Connection closed",
				slog.Uint64("session_id", sess.ID),
				slog.String("reason", err.Error()),
			)
			return
		}
	}
}

// announceMTU sends the server's read buffer size to the peer as a Control
// message, so it can size its writes accordingly.
func (s *TCPServer) announceMTU(conn net.Conn) error {
	msg, err := protocol.Encode(protocol.TypeControl, protocol.EncodeMTU(uint16(s.config.ReadBufferSize)))
	if err != nil {
		return fmt.Errorf("failed to encode MTU announcement: %w", err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(msg); err != nil {
		return fmt.Errorf("failed to write MTU announcement: %w", err)
	}
	return conn.SetWriteDeadline(time.Time{})
}

// recordReport folds one chunk's pipeline results into the Prometheus
// metrics and the server counters.
func (s *TCPServer) recordReport(chunkSize int, report session.ChunkReport) {
	s.mu.Lock()
	s.chunksProcessed++
	s.mu.Unlock()

	s.metrics.RecordChunk(chunkSize)

	if report.Messages > 0 {
		s.metrics.MessagesDecoded.Add(float64(report.Messages))
	}
	for kind, count := range report.DecodeErrorKinds {
		s.metrics.DecodeErrors.WithLabelValues(kind).Add(float64(count))
	}
	if report.Segments > 0 {
		s.metrics.SegmentsReceived.Add(float64(report.Segments))
	}
	if report.InvalidSegments > 0 {
		s.metrics.InvalidSegments.Add(float64(report.InvalidSegments))
	}
	if report.Frames > 0 {
		s.metrics.FramesReassembled.Add(float64(report.Frames))
		for _, size := range report.FrameSizes {
			s.metrics.FrameSize.Observe(float64(size))
		}
	}
	if report.FramesDiscarded > 0 {
		s.metrics.IncompleteFramesDiscarded.Add(float64(report.FramesDiscarded))
	}
	if report.SinkErrors > 0 {
		s.metrics.SinkErrors.Add(float64(report.SinkErrors))
	}
}

// GetStatistics returns current server statistics.
func (s *TCPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		ConnectionsAccepted: s.connectionsAccepted,
		ConnectionsRejected: s.connectionsRejected,
		ActiveConnections:   uint64(len(s.conns)),
		ChunksProcessed:     s.chunksProcessed,
		ActiveSessions:      uint64(s.sessions.GetActiveSessionCount()),
	}
}

// ServerStatistics represents server performance metrics.
type ServerStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsRejected uint64 `json:"connections_rejected"`
	ActiveConnections   uint64 `json:"active_connections"`
	ChunksProcessed     uint64 `json:"chunks_processed"`
	ActiveSessions      uint64 `json:"active_sessions"`
}
