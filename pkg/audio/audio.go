package audio

import (
	"fmt"
	"math"
)

// SampleRate is the output sample rate of every generation backend.
const SampleRate = 44100

const maxPCM = 32767

// Buffer holds floating point audio samples, one slice per channel.
// Values are conventionally in [-1.0, 1.0] but not guaranteed until
// Normalize has run.
type Buffer struct {
	Samples [][]float64
	Rate    int
}

// New returns a buffer over the given channels at the default rate.
func New(samples [][]float64) *Buffer {
	return &Buffer{Samples: samples, Rate: SampleRate}
}

// Mono returns a single-channel buffer at the default rate.
func Mono(samples []float64) *Buffer {
	return New([][]float64{samples})
}

func (b *Buffer) Channels() int {
	return len(b.Samples)
}

// Len returns the number of samples per channel.
func (b *Buffer) Len() int {
	if len(b.Samples) == 0 {
		return 0
	}
	return len(b.Samples[0])
}

// Peak returns the largest sample magnitude across all channels.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, ch := range b.Samples {
		for _, v := range ch {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}
	return peak
}

// Normalize rescales the buffer into [-1.0, 1.0] by dividing every sample
// by the peak magnitude, but only when the peak exceeds 1.0. In-range
// buffers pass through untouched and an all-zero buffer is left alone, so
// there is never a division by zero.
func (b *Buffer) Normalize() {
	peak := b.Peak()
	if peak <= 1.0 {
		return
	}
	for _, ch := range b.Samples {
		for i, v := range ch {
			ch[i] = v / peak
		}
	}
}

// Quantize converts the buffer to interleaved 16-bit signed PCM. Samples
// are scaled by 32767 and rounded; anything still out of range after
// normalization is clamped. Empty or ragged buffers are post-processing
// failures.
func (b *Buffer) Quantize() ([]int16, error) {
	if b.Channels() == 0 || b.Len() == 0 {
		return nil, fmt.Errorf("audio: empty buffer")
	}
	n := b.Len()
	for i, ch := range b.Samples {
		if len(ch) != n {
			return nil, fmt.Errorf("audio: channel %d has %d samples, want %d", i, len(ch), n)
		}
	}
	pcm := make([]int16, 0, n*b.Channels())
	for i := 0; i < n; i++ {
		for _, ch := range b.Samples {
			v := math.Round(ch[i] * maxPCM)
			if v > maxPCM {
				v = maxPCM
			}
			if v < -maxPCM {
				v = -maxPCM
			}
			pcm = append(pcm, int16(v))
		}
	}
	return pcm, nil
}
