// Package publish delivers reassembled frames to downstream consumers over
// NATS, one msgpack-encoded envelope per frame.
package publish
