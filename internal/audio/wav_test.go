package audio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/skypro1111/frame-audio-service/internal/reassembly"
)

func TestEncodeWAV(t *testing.T) {
	tests := []struct {
		name        string
		pcm         []byte
		sampleRate  int
		expectError bool
	}{
		{name: "valid payload", pcm: []byte{0x01, 0x00, 0x02, 0x00}, sampleRate: 8000},
		{name: "empty payload", pcm: nil, sampleRate: 8000, expectError: true},
		{name: "odd length payload", pcm: []byte{0x01}, sampleRate: 8000, expectError: true},
		{name: "zero sample rate", pcm: []byte{0x01, 0x00}, sampleRate: 0, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeWAV(tt.pcm, tt.sampleRate)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if len(data) != wavHeaderSize+len(tt.pcm) {
				t.Errorf("Expected %d bytes, got %d", wavHeaderSize+len(tt.pcm), len(data))
			}
			if string(data[0:4]) != "RIFF" {
				t.Error("Missing RIFF header")
			}
		})
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := []byte{0x10, 0x00, 0x20, 0x00, 0x30, 0x00}

	encoded, err := EncodeWAV(pcm, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, sampleRate, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if sampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", sampleRate)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Errorf("Round trip changed PCM data: % 02x", decoded)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "too short", data: []byte("RIFF")},
		{name: "wrong magic", data: bytes.Repeat([]byte{0x00}, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestWAVDirectorySink(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewWAVDirectorySink(dir, 8000)
	if err != nil {
		t.Fatalf("NewWAVDirectorySink failed: %v", err)
	}
	defer sink.Close()

	frame := &reassembly.ReassembledFrame{FrameID: 7, Payload: []byte{0x01, 0x00, 0x02, 0x00}}
	if err := sink.HandleFrame(3, frame); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	path := filepath.Join(dir, "session_3_frame_7.wav")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Capture file not written: %v", err)
	}

	pcm, sampleRate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("Capture file is not valid WAV: %v", err)
	}
	if sampleRate != 8000 || !bytes.Equal(pcm, frame.Payload) {
		t.Errorf("Capture file content mismatch: rate=%d pcm=% 02x", sampleRate, pcm)
	}
}

func TestWAVDirectorySinkRejectsOddPayload(t *testing.T) {
	sink, err := NewWAVDirectorySink(t.TempDir(), 8000)
	if err != nil {
		t.Fatalf("NewWAVDirectorySink failed: %v", err)
	}

	frame := &reassembly.ReassembledFrame{FrameID: 1, Payload: []byte{0x01}}
	if err := sink.HandleFrame(1, frame); err == nil {
		t.Error("Expected error for odd-length payload")
	}
}
