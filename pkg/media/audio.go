// Package media defines the audio frame type exchanged between the telephony
// media stream and the speech providers.
package media

import (
	"fmt"
	"time"
)

// Telephony audio defaults. Provider media streams deliver 8 kHz mono audio.
const (
	DefaultSampleRate  = 8000
	DefaultNumChannels = 1
)

// AudioFrame holds a chunk of 16-bit little-endian PCM audio.
// Fields are immutable after creation; Data may be processed in place.
//
// A zero Timestamp means "live"; otherwise it is an offset from call start.
type AudioFrame struct {
	Data        []byte        // 16-bit PCM, little-endian
	SampleRate  int           // samples per second per channel
	NumChannels int           // 1 or 2
	Timestamp   time.Duration // optional offset from call start
}

// NewAudioFrame creates an AudioFrame and validates that the data length is a
// whole number of samples for the given channel count.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if numChannels < 1 || numChannels > 2 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}
	if len(data) == 0 || len(data)%(numChannels*2) != 0 {
		return nil, fmt.Errorf("audio data length %d is not a whole number of %d-channel samples", len(data), numChannels)
	}

	return &AudioFrame{
		Data:        data,
		SampleRate:  sampleRate,
		NumChannels: numChannels,
		Timestamp:   timestamp,
	}, nil
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:        data,
		SampleRate:  f.SampleRate,
		NumChannels: f.NumChannels,
		Timestamp:   f.Timestamp,
	}
}

// SamplesPerChannel returns the number of samples each channel carries.
func (f *AudioFrame) SamplesPerChannel() int {
	return len(f.Data) / (f.NumChannels * 2)
}

// Duration returns the play time represented by this frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel()) * time.Second / time.Duration(f.SampleRate)
}
