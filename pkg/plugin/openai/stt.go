package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/munivoice/munivoice-go/pkg/ai/stt"
	"github.com/munivoice/munivoice-go/pkg/media"
)

// minSegmentDuration is the Whisper API minimum; shorter segments return an
// empty transcript without an API call.
const minSegmentDuration = 100 * time.Millisecond

// WhisperSTT transcribes utterance segments with the Whisper API. The
// telephony provider endpoints speech, so each segment is one complete
// utterance and batch transcription fits the turn cadence.
type WhisperSTT struct {
	client   *goopenai.Client
	model    string
	language string
}

// NewWhisperSTT creates a Whisper-backed STT provider.
func NewWhisperSTT(cfg Config) (*WhisperSTT, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &WhisperSTT{
		client:   goopenai.NewClient(cfg.APIKey),
		model:    cfg.STTModel,
		language: cfg.Language,
	}, nil
}

// Recognize transcribes the segment.
func (w *WhisperSTT) Recognize(ctx context.Context, segment []media.AudioFrame, cfg stt.Config) (stt.Result, error) {
	if len(segment) == 0 {
		return stt.Result{}, fmt.Errorf("empty audio segment")
	}

	var total time.Duration
	for _, frame := range segment {
		total += frame.Duration()
	}
	if total < minSegmentDuration {
		return stt.Result{Timestamp: time.Now().UnixMilli()}, nil
	}

	wavData, err := encodeWAV(segment)
	if err != nil {
		return stt.Result{}, fmt.Errorf("encode segment: %w", err)
	}

	resp, err := w.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    w.model,
		Language: w.language,
		Format:   goopenai.AudioResponseFormatJSON,
		Reader:   bytes.NewReader(wavData),
		FilePath: "segment.wav",
	})
	if err != nil {
		return stt.Result{}, classify(err, "whisper transcription")
	}

	return stt.Result{
		Text:      resp.Text,
		Language:  resp.Language,
		Timestamp: time.Now().UnixMilli(),
		AudioSecs: float32(total) / float32(time.Second),
	}, nil
}

// Capabilities returns the provider's capabilities.
func (w *WhisperSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		SupportedLanguages: []string{"en-US", "es-ES"},
		SampleRates:        []int{8000, 16000, 24000, 44100, 48000},
	}
}

// encodeWAV wraps the concatenated PCM16-LE frames in a RIFF/WAVE header.
func encodeWAV(segment []media.AudioFrame) ([]byte, error) {
	sampleRate := segment[0].SampleRate
	channels := segment[0].NumChannels

	size := 0
	for _, frame := range segment {
		if frame.SampleRate != sampleRate || frame.NumChannels != channels {
			return nil, fmt.Errorf("mixed audio formats in segment")
		}
		size += len(frame.Data)
	}

	var buf bytes.Buffer
	buf.Grow(44 + size)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+size))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))                    // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(size))
	for _, frame := range segment {
		buf.Write(frame.Data)
	}
	return buf.Bytes(), nil
}
