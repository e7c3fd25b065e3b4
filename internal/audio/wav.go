// Package audio checks and concatenates the canonical 44-byte-header PCM WAV
// files clients upload as chunks.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// HeaderSize is the length of a canonical PCM WAV header.
const HeaderSize = 44

var ErrInvalidWAV = errors.New("invalid wav")

// Validate accepts a .wav filename whose payload starts with RIFF and carries
// the WAVE tag within the header.
func Validate(filename string, data []byte) error {
	if !strings.EqualFold(filepath.Ext(filename), ".wav") {
		return fmt.Errorf("%w: %q is not a .wav file", ErrInvalidWAV, filename)
	}
	if len(data) < 12 {
		return fmt.Errorf("%w: %d bytes is too short", ErrInvalidWAV, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("%w: missing RIFF marker", ErrInvalidWAV)
	}
	if !strings.Contains(string(data[:min(len(data), HeaderSize)]), "WAVE") {
		return fmt.Errorf("%w: missing WAVE marker", ErrInvalidWAV)
	}
	return nil
}

// Merge concatenates chunks into one WAV: the first chunk's header followed by
// every chunk's PCM data, with the RIFF and data sizes rewritten for the
// combined payload. Chunks shorter than a header contribute nothing.
func Merge(chunks [][]byte) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, errors.New("no chunks to merge")
	}
	if len(chunks[0]) < HeaderSize {
		return nil, fmt.Errorf("%w: first chunk has no complete header", ErrInvalidWAV)
	}

	total := HeaderSize
	for _, c := range chunks {
		if len(c) > HeaderSize {
			total += len(c) - HeaderSize
		}
	}

	out := make([]byte, 0, total)
	out = append(out, chunks[0][:HeaderSize]...)
	for _, c := range chunks {
		if len(c) > HeaderSize {
			out = append(out, c[HeaderSize:]...)
		}
	}

	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(out)-HeaderSize))
	return out, nil
}
