package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/frame-audio-service/internal/audio"
	"github.com/skypro1111/frame-audio-service/internal/deframe"
	"github.com/skypro1111/frame-audio-service/internal/reassembly"
)

const cleanupInterval = 30 * time.Second

// ManagerConfig wires a manager's sessions.
type ManagerConfig struct {
	Reassembly reassembly.Config
	Sink       audio.Sink
	Handler    MessageHandler
}

// Manager tracks all active sessions and evicts the ones whose connection
// has gone silent past the idle timeout.
type Manager struct {
	sessions map[uint64]*Session
	nextID   uint64
	mu       sync.RWMutex

	logger  *slog.Logger
	timeout time.Duration
	cfg     ManagerConfig

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine.
func NewManager(logger *slog.Logger, timeout time.Duration, cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		sessions: make(map[uint64]*Session),
		logger:   logger,
		timeout:  timeout,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go m.startCleanupRoutine()

	return m
}

// CreateSession builds a fresh pipeline for a new connection and returns it.
func (m *Manager) CreateSession(remoteAddr string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := time.Now()
	s := &Session{
		ID:           m.nextID,
		RemoteAddr:   remoteAddr,
		StartTime:    now,
		lastActivity: now,
		deframer:     deframe.New(),
		reassembler:  reassembly.New(m.cfg.Reassembly),
		sink:         m.cfg.Sink,
		handler:      m.cfg.Handler,
		logger:       m.logger,
	}
	m.sessions[s.ID] = s

	m.logger.Info("Session created",
		slog.Uint64("session_id", s.ID),
		slog.String("remote_addr", remoteAddr),
	)

	return s
}

// GetSession retrieves an active session.
func (m *Manager) GetSession(id uint64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	return s, exists
}

// GetActiveSessionCount returns the number of tracked sessions.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions for monitoring.
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// RemoveSession tears down a session and discards its pipeline state.
func (m *Manager) RemoveSession(id uint64) bool {
	m.mu.Lock()
	s, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	info := s.Info()
	s.Close()

	m.logger.Info("Session removed",
		slog.Uint64("session_id", id),
		slog.String("remote_addr", s.RemoteAddr),
		slog.Duration("duration", info.Duration),
		slog.Uint64("frames_emitted", info.FramesEmitted),
		slog.Uint64("decode_errors", info.Deframe.DecodeErrors),
		slog.Uint64("frames_discarded", info.Reassembly.IncompleteFramesDiscarded),
	)

	return true
}

// Stop halts the cleanup routine and tears down every session.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.cancel()
	<-m.cleanup

	m.mu.Lock()
	for id, s := range m.sessions {
		s.Close()
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.logger.Info("Session manager stopped")
}

// startCleanupRoutine periodically removes sessions idle past the timeout.
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("idle_timeout", m.timeout),
		slog.Duration("check_interval", cleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return
		case <-ticker.C:
			m.cleanupIdleSessions()
		}
	}
}

func (m *Manager) cleanupIdleSessions() {
	now := time.Now()
	var idle []uint64

	m.mu.RLock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity()) > m.timeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	if len(idle) == 0 {
		return
	}

	m.logger.Info("Cleaning up idle sessions", slog.Int("idle_count", len(idle)))
	for _, id := range idle {
		m.RemoveSession(id)
	}
}
