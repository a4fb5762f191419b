package audio

import (
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// EncodeWAV wraps raw mono PCM16 bytes in a RIFF/WAVE container. The frame
// payloads recovered by the pipeline are already little-endian PCM16, so the
// data chunk is written as-is.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio payload")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM16 payload length must be even, got %d bytes", len(pcm))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(out[22:24], numChannels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)

	return out, nil
}

// DecodeWAV extracts the raw PCM16 bytes and sample rate from a mono WAV
// file produced by EncodeWAV.
func DecodeWAV(data []byte) ([]byte, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d",
			wavHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE file")
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return nil, 0, fmt.Errorf("unexpected WAV chunk layout")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
	}
	if channels := binary.LittleEndian.Uint16(data[22:24]); channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", channels)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", bits)
	}

	sampleRate := int(binary.LittleEndian.Uint32(data[24:28]))
	dataSize := int(binary.LittleEndian.Uint32(data[40:44]))
	if dataSize == 0 || wavHeaderSize+dataSize > len(data) {
		return nil, 0, fmt.Errorf("data chunk size %d does not fit in %d byte file", dataSize, len(data))
	}

	pcm := make([]byte, dataSize)
	copy(pcm, data[wavHeaderSize:wavHeaderSize+dataSize])

	return pcm, sampleRate, nil
}
