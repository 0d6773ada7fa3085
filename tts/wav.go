package tts

import (
	"encoding/binary"
	"errors"
	"time"
)

const wavHeaderSize = 44

// ErrWAVTooShort is returned when audio data is smaller than a RIFF header.
var ErrWAVTooShort = errors.New("tts: wav data shorter than header")

// repairWAVHeader rewrites the RIFF and data chunk sizes in place so they
// match the actual length of the buffer. Audio produced by a streaming
// pipeline has placeholder sizes written before the payload length is known.
func repairWAVHeader(data []byte) error {
	if len(data) < wavHeaderSize {
		return ErrWAVTooShort
	}
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(data)-8))
	binary.LittleEndian.PutUint32(data[40:44], uint32(len(data)-44))
	return nil
}

// wavDuration computes the play time of a WAV buffer from its header fields.
func wavDuration(data []byte) (time.Duration, error) {
	if len(data) < wavHeaderSize {
		return 0, ErrWAVTooShort
	}
	channels := binary.LittleEndian.Uint16(data[22:24])
	sampleRate := binary.LittleEndian.Uint32(data[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(data[34:36])

	bytesPerSecond := uint64(sampleRate) * uint64(channels) * uint64(bitsPerSample) / 8
	if bytesPerSecond == 0 {
		return 0, errors.New("tts: wav header reports zero byte rate")
	}

	payload := uint64(len(data) - wavHeaderSize)
	seconds := float64(payload) / float64(bytesPerSecond)
	return time.Duration(seconds * float64(time.Second)), nil
}
