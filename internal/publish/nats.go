package publish

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/skypro1111/frame-audio-service/internal/reassembly"
)

// Config holds NATS publisher settings.
type Config struct {
	URL           string
	SubjectPrefix string
}

// FrameEnvelope is the msgpack message published for each reassembled
// frame. Consumers interpret Payload according to their negotiated codec;
// this service treats it as opaque bytes.
type FrameEnvelope struct {
	SessionID  uint64    `msgpack:"session_id"`
	FrameID    uint16    `msgpack:"frame_id"`
	Payload    []byte    `msgpack:"payload"`
	ReceivedAt time.Time `msgpack:"received_at"`
}

// natsConn is the slice of *nats.Conn the publisher uses, split out so
// tests can substitute a fake connection.
type natsConn interface {
	Publish(subj string, data []byte) error
	Flush() error
	Close()
}

// Publisher sends frame envelopes to NATS. It implements audio.Sink.
type Publisher struct {
	conn    natsConn
	prefix  string
	ownConn bool
	now     func() time.Time
}

// NewPublisher connects to the configured NATS server.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url cannot be empty")
	}
	if cfg.SubjectPrefix == "" {
		return nil, fmt.Errorf("nats subject prefix cannot be empty")
	}

	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	return &Publisher{
		conn:    conn,
		prefix:  cfg.SubjectPrefix,
		ownConn: true,
		now:     time.Now,
	}, nil
}

// NewPublisherWithConn wraps an existing connection; the caller keeps
// ownership of it. Used by tests.
func NewPublisherWithConn(conn *nats.Conn, subjectPrefix string) *Publisher {
	return &Publisher{conn: conn, prefix: subjectPrefix, now: time.Now}
}

// HandleFrame publishes one reassembled frame on <prefix>.<session_id>.
func (p *Publisher) HandleFrame(sessionID uint64, frame *reassembly.ReassembledFrame) error {
	envelope := FrameEnvelope{
		SessionID:  sessionID,
		FrameID:    frame.FrameID,
		Payload:    frame.Payload,
		ReceivedAt: p.now(),
	}

	data, err := msgpack.Marshal(&envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal frame envelope: %w", err)
	}

	subject := fmt.Sprintf("%s.%d", p.prefix, sessionID)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish frame %d to %s: %w", frame.FrameID, subject, err)
	}

	return nil
}

// Close flushes pending publishes and closes the connection if this
// publisher opened it. A flush failure is reported either way.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}

	flushErr := p.conn.Flush()
	if p.ownConn {
		p.conn.Close()
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", flushErr)
	}
	return nil
}
