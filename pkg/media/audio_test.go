package media

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestNewAudioFrameValidation(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		sampleRate  int
		numChannels int
		wantErr     bool
	}{
		{"valid mono", make([]byte, 320), 8000, 1, false},
		{"valid stereo", make([]byte, 640), 16000, 2, false},
		{"zero sample rate", make([]byte, 320), 0, 1, true},
		{"too many channels", make([]byte, 320), 8000, 3, true},
		{"empty data", nil, 8000, 1, true},
		{"partial sample", make([]byte, 321), 8000, 1, true},
		{"partial stereo sample", make([]byte, 322), 8000, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAudioFrame(tt.data, tt.sampleRate, tt.numChannels, 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestAudioFrameDuration(t *testing.T) {
	is := is.New(t)

	frame, err := NewAudioFrame(make([]byte, 320), 8000, 1, 0)
	is.NoErr(err)
	is.Equal(frame.SamplesPerChannel(), 160)
	is.Equal(frame.Duration(), 20*time.Millisecond)
}

func TestAudioFrameClone(t *testing.T) {
	is := is.New(t)

	frame, err := NewAudioFrame([]byte{1, 2, 3, 4}, 8000, 1, 0)
	is.NoErr(err)

	clone := frame.Clone()
	clone.Data[0] = 99
	is.Equal(frame.Data[0], byte(1)) // original untouched
}
