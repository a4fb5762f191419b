package audio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/skypro1111/frame-audio-service/internal/reassembly"
)

// Sink receives reassembled frames from the pipeline. Implementations must
// not block for long: the pipeline delivers synchronously and queues nothing
// on the sink's behalf.
type Sink interface {
	// HandleFrame delivers one complete frame for the given session.
	HandleFrame(sessionID uint64, frame *reassembly.ReassembledFrame) error

	// Close releases sink resources.
	Close() error
}

// DiscardSink drops every frame. Useful for load testing the protocol path.
type DiscardSink struct{}

// HandleFrame discards the frame.
func (DiscardSink) HandleFrame(uint64, *reassembly.ReassembledFrame) error { return nil }

// Close is a no-op.
func (DiscardSink) Close() error { return nil }

// WAVDirectorySink writes each reassembled frame payload to its own WAV file
// under a directory, treating the payload as mono PCM16. Intended for
// offline inspection of recovered audio rather than production delivery.
type WAVDirectorySink struct {
	dir        string
	sampleRate int
}

// NewWAVDirectorySink creates the capture directory if needed.
func NewWAVDirectorySink(dir string, sampleRate int) (*WAVDirectorySink, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory %s: %w", dir, err)
	}
	return &WAVDirectorySink{dir: dir, sampleRate: sampleRate}, nil
}

// HandleFrame writes the frame as session_<id>_frame_<id>.wav. Frames with
// payloads that are not whole PCM16 samples are rejected.
func (s *WAVDirectorySink) HandleFrame(sessionID uint64, frame *reassembly.ReassembledFrame) error {
	data, err := EncodeWAV(frame.Payload, s.sampleRate)
	if err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", frame.FrameID, err)
	}

	name := fmt.Sprintf("session_%d_frame_%d.wav", sessionID, frame.FrameID)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// Close is a no-op; files are written and closed per frame.
func (s *WAVDirectorySink) Close() error { return nil }
