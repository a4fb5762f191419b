package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/frame-audio-service/internal/audio"
	"github.com/skypro1111/frame-audio-service/internal/deframe"
	"github.com/skypro1111/frame-audio-service/internal/protocol"
	"github.com/skypro1111/frame-audio-service/internal/reassembly"
)

// MessageHandler receives non-Data messages the pipeline does not consume
// itself: Error, Ack, Info and Control payloads that are not MTU
// announcements. Implementations must not block.
type MessageHandler interface {
	HandleMessage(sessionID uint64, msg *protocol.Message)
}

// MessageHandlerFunc adapts a function to the MessageHandler interface.
type MessageHandlerFunc func(sessionID uint64, msg *protocol.Message)

// HandleMessage calls f.
func (f MessageHandlerFunc) HandleMessage(sessionID uint64, msg *protocol.Message) {
	f(sessionID, msg)
}

// ChunkReport summarizes what one HandleChunk call produced, so the caller
// can drive its metrics without reaching into pipeline internals.
type ChunkReport struct {
	Messages        int
	DecodeErrors    int
	Segments        int
	InvalidSegments int
	Frames          int
	SinkErrors      int
	FramesDiscarded int

	// FrameSizes holds the payload size of each completed frame, in emission
	// order. len(FrameSizes) == Frames.
	FrameSizes []int

	// DecodeErrorKinds breaks DecodeErrors down by protocol.ErrorKind label.
	// Nil when DecodeErrors is zero.
	DecodeErrorKinds map[string]int
}

// Session is the protocol pipeline for one transport connection. HandleChunk
// must only ever be called from the connection's read goroutine. The mutex
// guards the session-level metadata; the deframer and reassembler guard
// their own state, so monitoring endpoints can snapshot a session during
// active traffic and the idle cleanup can close it.
type Session struct {
	ID         uint64
	RemoteAddr string
	StartTime  time.Time

	deframer    *deframe.Deframer
	reassembler *reassembly.Reassembler
	sink        audio.Sink
	handler     MessageHandler
	logger      *slog.Logger

	lastActivity  time.Time
	peerMTU       uint16
	framesEmitted uint64
	sinkErrors    uint64
	mu            sync.RWMutex
}

// HandleChunk feeds one transport chunk through the pipeline, delivering any
// completed frames to the sink. It drains everything synchronously and never
// blocks on a downstream consumer: a slow sink surfaces as a sink error, not
// as backpressure.
func (s *Session) HandleChunk(chunk []byte) ChunkReport {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	var report ChunkReport
	discardedBefore := s.reassembler.Stats().IncompleteFramesDiscarded

	for _, result := range s.deframer.Feed(chunk) {
		if result.Err != nil {
			report.DecodeErrors++
			if report.DecodeErrorKinds == nil {
				report.DecodeErrorKinds = make(map[string]int)
			}
			report.DecodeErrorKinds[protocol.ErrorKind(result.Err)]++
			s.logger.Warn("Dropped undecodable message",
				slog.Uint64("session_id", s.ID),
				slog.String("error", result.Err.Error()),
			)
			continue
		}

		report.Messages++
		switch result.Msg.Type {
		case protocol.TypeData:
			s.handleData(result.Msg.Payload, &report)
		case protocol.TypeControl:
			s.handleControl(result.Msg)
		default:
			if s.handler != nil {
				s.handler.HandleMessage(s.ID, result.Msg)
			}
		}
	}

	report.FramesDiscarded = int(s.reassembler.Stats().IncompleteFramesDiscarded - discardedBefore)
	return report
}

func (s *Session) handleData(payload []byte, report *ChunkReport) {
	frame, err := s.reassembler.AddSegmentPayload(payload)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidSegment) {
			report.InvalidSegments++
		}
		s.logger.Warn("Rejected segment",
			slog.Uint64("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	report.Segments++
	if frame == nil {
		return
	}

	report.Frames++
	report.FrameSizes = append(report.FrameSizes, len(frame.Payload))
	s.mu.Lock()
	s.framesEmitted++
	s.mu.Unlock()

	if err := s.sink.HandleFrame(s.ID, frame); err != nil {
		report.SinkErrors++
		s.mu.Lock()
		s.sinkErrors++
		s.mu.Unlock()

		s.logger.Error("Frame sink failed",
			slog.Uint64("session_id", s.ID),
			slog.Uint64("frame_id", uint64(frame.FrameID)),
			slog.Int("payload_size", len(frame.Payload)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Debug("Frame delivered",
		slog.Uint64("session_id", s.ID),
		slog.Uint64("frame_id", uint64(frame.FrameID)),
		slog.Int("payload_size", len(frame.Payload)),
	)
}

func (s *Session) handleControl(msg *protocol.Message) {
	if mtu, ok := protocol.ParseMTU(msg.Payload); ok {
		s.mu.Lock()
		s.peerMTU = mtu
		s.mu.Unlock()

		s.logger.Info("Peer MTU announced",
			slog.Uint64("session_id", s.ID),
			slog.Int("mtu", int(mtu)),
		)
		return
	}

	// Unrecognized control payload shapes pass through uninterpreted.
	if s.handler != nil {
		s.handler.HandleMessage(s.ID, msg)
	}
}

// PeerMTU returns the MTU the peer announced, or zero if none arrived yet.
func (s *Session) PeerMTU() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerMTU
}

// LastActivity returns the time of the last chunk handled.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Close discards all pipeline state. Always safe: the pipeline holds only
// in-memory buffers.
func (s *Session) Close() {
	s.deframer.Reset()
	s.reassembler.Reset()
}

// Info returns a monitoring snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		SessionID:     s.ID,
		RemoteAddr:    s.RemoteAddr,
		StartTime:     s.StartTime,
		LastActivity:  s.lastActivity,
		Duration:      time.Since(s.StartTime),
		PeerMTU:       s.peerMTU,
		Deframe:       s.deframer.Stats(),
		Reassembly:    s.reassembler.Stats(),
		PendingFrames: s.reassembler.PendingFrames(),
		FramesEmitted: s.framesEmitted,
		SinkErrors:    s.sinkErrors,
	}
}

// Info is a point-in-time session snapshot for monitoring APIs.
type Info struct {
	SessionID     uint64            `json:"session_id"`
	RemoteAddr    string            `json:"remote_addr"`
	StartTime     time.Time         `json:"start_time"`
	LastActivity  time.Time         `json:"last_activity"`
	Duration      time.Duration     `json:"duration"`
	PeerMTU       uint16            `json:"peer_mtu"`
	Deframe       deframe.Stats     `json:"deframe"`
	Reassembly    reassembly.Stats  `json:"reassembly"`
	PendingFrames int               `json:"pending_frames"`
	FramesEmitted uint64            `json:"frames_emitted"`
	SinkErrors    uint64            `json:"sink_errors"`
}
