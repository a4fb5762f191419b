// Package audio contains the frame delivery boundary: sinks that receive
// reassembled frame payloads, and a minimal WAV encoder for capturing PCM16
// payloads to disk.
package audio
