package reassembly

import (
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/frame-audio-service/internal/protocol"
)

// Default eviction bounds, used when the corresponding config value is zero.
const (
	DefaultMaxPendingFrames = 64
	DefaultFrameTimeout     = 5 * time.Second
)

// ReassembledFrame is one complete logical audio frame: the segments of a
// frame identifier concatenated in ascending segment order. The payload is
// opaque codec data; interpreting it belongs to the downstream consumer.
type ReassembledFrame struct {
	FrameID uint16
	Payload []byte
}

// Config bounds the reassembler's tracking state.
type Config struct {
	// MaxPendingFrames caps the number of concurrently incomplete frames.
	// When a new frame would exceed it, the oldest-created incomplete frame
	// is evicted.
	MaxPendingFrames int

	// FrameTimeout evicts any incomplete frame older than this. Checked on
	// every AddSegment call and by Sweep.
	FrameTimeout time.Duration
}

// assembly tracks the segments received so far for one frame identifier.
// The totalSegments recorded from the first segment wins; later conflicting
// values are ignored.
type assembly struct {
	totalSegments uint8
	segments      map[uint8][]byte
	createdAt     time.Time
}

// Stats counts reassembler activity for observability.
type Stats struct {
	SegmentsAccepted          uint64 `json:"segments_accepted"`
	FramesCompleted           uint64 `json:"frames_completed"`
	IncompleteFramesDiscarded uint64 `json:"incomplete_frames_discarded"`
}

// Reassembler collects segments per frame identifier. Segments must only be
// added from one goroutine at a time; the internal lock exists so Stats,
// PendingFrames and Reset can be called concurrently with it, the way
// monitoring endpoints do.
type Reassembler struct {
	cfg Config
	mu  sync.RWMutex

	pending map[uint16]*assembly
	// creation order of pending frame identifiers for oldest-first eviction
	order []uint16

	stats Stats
	now   func() time.Time
}

// New creates a reassembler with the given bounds. Zero config fields fall
// back to the package defaults.
func New(cfg Config) *Reassembler {
	if cfg.MaxPendingFrames <= 0 {
		cfg.MaxPendingFrames = DefaultMaxPendingFrames
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
	return &Reassembler{
		cfg:     cfg,
		pending: make(map[uint16]*assembly),
		now:     time.Now,
	}
}

// AddSegment records one segment. It returns the reassembled frame when this
// segment completes it, or nil while the frame is still incomplete. A
// duplicate segment identifier overwrites the previous data for that slot;
// the transport may retransmit. The data bytes are copied, so the caller may
// reuse its slice.
func (r *Reassembler) AddSegment(frameID uint16, segmentID, totalSegments uint8, data []byte) (*ReassembledFrame, error) {
	if totalSegments == 0 {
		return nil, fmt.Errorf("%w: total segments is zero", protocol.ErrInvalidSegment)
	}
	if segmentID >= totalSegments {
		return nil, fmt.Errorf("%w: segment %d out of range for %d total",
			protocol.ErrInvalidSegment, segmentID, totalSegments)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpired()

	asm, exists := r.pending[frameID]
	if !exists {
		r.evictForCapacity()
		asm = &assembly{
			totalSegments: totalSegments,
			segments:      make(map[uint8][]byte),
			createdAt:     r.now(),
		}
		r.pending[frameID] = asm
		r.order = append(r.order, frameID)
	}

	// First-seen totalSegments wins; a conflicting later value is a peer
	// bug the protocol gives no way to arbitrate.
	if segmentID >= asm.totalSegments {
		return nil, fmt.Errorf("%w: segment %d out of range for %d total",
			protocol.ErrInvalidSegment, segmentID, asm.totalSegments)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	asm.segments[segmentID] = buf
	r.stats.SegmentsAccepted++

	if len(asm.segments) < int(asm.totalSegments) {
		return nil, nil
	}

	// All segments present: concatenate in ascending segment order and
	// purge the tracking entry.
	size := 0
	for _, seg := range asm.segments {
		size += len(seg)
	}
	payload := make([]byte, 0, size)
	for id := uint8(0); id < asm.totalSegments; id++ {
		payload = append(payload, asm.segments[id]...)
	}

	r.remove(frameID)
	r.stats.FramesCompleted++

	return &ReassembledFrame{FrameID: frameID, Payload: payload}, nil
}

// AddSegmentPayload parses a raw Data message payload and feeds it through
// AddSegment.
func (r *Reassembler) AddSegmentPayload(payload []byte) (*ReassembledFrame, error) {
	seg, err := protocol.ParseSegment(payload)
	if err != nil {
		return nil, err
	}
	return r.AddSegment(seg.FrameID, seg.SegmentID, seg.TotalSegments, seg.Data)
}

// Sweep evicts all incomplete frames older than the configured timeout and
// returns how many were discarded. AddSegment sweeps implicitly; an explicit
// periodic call keeps an idle reassembler bounded too.
func (r *Reassembler) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.stats.IncompleteFramesDiscarded
	r.evictExpired()
	return int(r.stats.IncompleteFramesDiscarded - before)
}

// PendingFrames returns the number of currently incomplete frames.
func (r *Reassembler) PendingFrames() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// Stats returns lifetime counters for this reassembler.
func (r *Reassembler) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Reset discards all tracked frame state. Safe at any point; evicted frames
// are not counted as discarded since the whole connection is going away.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[uint16]*assembly)
	r.order = nil
}

func (r *Reassembler) evictExpired() {
	cutoff := r.now().Add(-r.cfg.FrameTimeout)
	// order is creation-sorted, so stop at the first young entry
	for len(r.order) > 0 {
		frameID := r.order[0]
		asm, exists := r.pending[frameID]
		if !exists {
			r.order = r.order[1:]
			continue
		}
		if asm.createdAt.After(cutoff) {
			break
		}
		r.remove(frameID)
		r.stats.IncompleteFramesDiscarded++
	}
}

func (r *Reassembler) evictForCapacity() {
	for len(r.pending) >= r.cfg.MaxPendingFrames && len(r.order) > 0 {
		frameID := r.order[0]
		if _, exists := r.pending[frameID]; !exists {
			r.order = r.order[1:]
			continue
		}
		r.remove(frameID)
		r.stats.IncompleteFramesDiscarded++
	}
}

func (r *Reassembler) remove(frameID uint16) {
	delete(r.pending, frameID)
	for i, id := range r.order {
		if id == frameID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
