package mediastream

import (
	"github.com/munivoice/munivoice-go/pkg/media"
)

// G.711 mu-law, the 8 kHz telephony codec the provider's media stream uses.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

func mulawDecodeSample(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + mulawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}

func mulawEncodeSample(s int16) byte {
	x := int(s)
	sign := byte(0)
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > mulawClip {
		x = mulawClip
	}
	x += mulawBias

	exponent := byte(7)
	for mask := 0x4000; x&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(x>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// decodeMulaw converts a mu-law payload into a PCM16-LE audio frame.
func decodeMulaw(payload []byte) media.AudioFrame {
	data := make([]byte, len(payload)*2)
	for i, b := range payload {
		s := mulawDecodeSample(b)
		data[2*i] = byte(s)
		data[2*i+1] = byte(uint16(s) >> 8)
	}
	return media.AudioFrame{
		Data:        data,
		SampleRate:  media.DefaultSampleRate,
		NumChannels: media.DefaultNumChannels,
	}
}

// encodeMulaw converts a PCM16-LE frame to a mu-law payload, decimating to
// 8 kHz when the synthesis rate is higher. Each output sample is the mean of
// its decimation window, a box filter that suppresses aliasing from the
// downsample.
func encodeMulaw(frame media.AudioFrame) []byte {
	step := 1
	if frame.SampleRate > media.DefaultSampleRate {
		step = frame.SampleRate / media.DefaultSampleRate
	}

	samples := len(frame.Data) / 2
	out := make([]byte, 0, samples/step+1)
	for i := 0; i < samples; i += step {
		sum, n := 0, 0
		for j := i; j < i+step && j < samples; j++ {
			sum += int(int16(uint16(frame.Data[2*j]) | uint16(frame.Data[2*j+1])<<8))
			n++
		}
		out = append(out, mulawEncodeSample(int16(sum/n)))
	}
	return out
}
