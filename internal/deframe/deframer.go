package deframe

import (
	"sync"

	"github.com/skypro1111/frame-audio-service/internal/protocol"
)

// Result is one outcome of feeding bytes into the deframer: either a decoded
// message or a typed decode error for one candidate message slice.
type Result struct {
	Msg *protocol.Message
	Err error
}

// Stats counts what a deframer has seen over its lifetime.
type Stats struct {
	BytesFed     uint64 `json:"bytes_fed"`
	Messages     uint64 `json:"messages"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// Deframer consumes a connection's byte stream and extracts complete,
// validated messages. Feed must only be called from one goroutine at a time;
// the internal lock exists so Stats, Pending and Reset can be called
// concurrently with it, the way monitoring endpoints do.
//
// Resynchronization after a decode failure trusts the header-declared length
// to skip the bad candidate. There is no in-band resync marker in this wire
// format, so corruption of a length field itself can desynchronize the
// stream for the rest of the connection; the decode error counter is the
// caller's signal to tear the connection down.
type Deframer struct {
	mu    sync.RWMutex
	buf   []byte
	stats Stats
}

// New creates an empty deframer.
func New() *Deframer {
	return &Deframer{}
}

// Feed appends chunk to the internal buffer and extracts every complete
// message now available. It never blocks and never drops a byte without
// accounting for it: the emitted results for any split of a byte stream
// into chunks are identical to feeding the stream in one piece.
func (d *Deframer) Feed(chunk []byte) []Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, chunk...)
	d.stats.BytesFed += uint64(len(chunk))

	var results []Result
	for {
		// Header: type byte plus big-endian payload length.
		if len(d.buf) < protocol.HeaderSize {
			break
		}
		length := int(d.buf[1])<<8 | int(d.buf[2])

		// Payload plus trailing checksum.
		total := protocol.HeaderSize + length + protocol.ChecksumSize
		if len(d.buf) < total {
			break
		}

		candidate := d.buf[:total]
		msg, err := protocol.Decode(candidate)

		// Advance past the candidate regardless of the outcome. The
		// declared length is trusted for framing even when validation
		// fails, which keeps alignment for subsequent messages as long as
		// the length field itself was not corrupted.
		d.buf = d.buf[total:]

		if err != nil {
			d.stats.DecodeErrors++
			results = append(results, Result{Err: err})
			continue
		}
		d.stats.Messages++
		results = append(results, Result{Msg: msg})
	}

	// Once everything buffered has been consumed, release the backing
	// array so a long-lived connection does not pin its largest burst.
	if len(d.buf) == 0 {
		d.buf = nil
	}

	return results
}

// Pending returns the number of buffered bytes awaiting the rest of a
// message.
func (d *Deframer) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.buf)
}

// Stats returns lifetime counters for this deframer.
func (d *Deframer) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// Reset discards all buffered bytes. Used when a connection is torn down
// mid-message; safe at any point since the deframer holds no external
// resources.
func (d *Deframer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = nil
}
