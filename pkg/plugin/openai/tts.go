package openai

import (
	"context"
	"io"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/munivoice/munivoice-go/pkg/ai/tts"
	"github.com/munivoice/munivoice-go/pkg/media"
)

// speechSampleRate is the fixed PCM output rate of the speech API.
const speechSampleRate = 24000

// speechFrameBytes is 20 ms of 24 kHz mono PCM16.
const speechFrameBytes = speechSampleRate / 50 * 2

// SpeechTTS synthesizes replies with the OpenAI speech API. Output is
// 24 kHz mono PCM16; the media layer resamples for the phone leg.
type SpeechTTS struct {
	client *goopenai.Client
	model  string
	voice  string
}

// NewSpeechTTS creates a speech-API-backed TTS provider.
func NewSpeechTTS(cfg Config) (*SpeechTTS, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &SpeechTTS{
		client: goopenai.NewClient(cfg.APIKey),
		model:  cfg.TTSModel,
		voice:  cfg.Voice,
	}, nil
}

// Synthesize streams the spoken text as 20 ms PCM frames.
func (s *SpeechTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan media.AudioFrame, error) {
	voice := s.voice
	if req.Voice != "" {
		voice = req.Voice
	}

	speechReq := goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(s.model),
		Input:          req.Text,
		Voice:          goopenai.SpeechVoice(voice),
		ResponseFormat: goopenai.SpeechResponseFormatPcm,
	}
	if req.Speed > 0 {
		speechReq.Speed = float64(req.Speed)
	}

	resp, err := s.client.CreateSpeech(ctx, speechReq)
	if err != nil {
		return nil, classify(err, "speech synthesis")
	}

	out := make(chan media.AudioFrame, 16)
	go func() {
		defer close(out)
		defer resp.Close()

		offset := time.Duration(0)
		buf := make([]byte, speechFrameBytes)
		for {
			n, err := io.ReadFull(resp, buf)
			if n > 0 {
				// Pad a short tail frame to whole samples.
				if n%2 != 0 {
					buf[n] = 0
					n++
				}
				frame := media.AudioFrame{
					Data:        append([]byte(nil), buf[:n]...),
					SampleRate:  speechSampleRate,
					NumChannels: 1,
					Timestamp:   offset,
				}
				offset += frame.Duration()
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

// Capabilities returns the provider's capabilities.
func (s *SpeechTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		SupportedLanguages: []string{"en-US", "es-ES"},
		SupportedVoices:    []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
		SampleRates:        []int{speechSampleRate},
	}
}
