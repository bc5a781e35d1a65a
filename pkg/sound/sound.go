package sound

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/musegen/musegen/pkg/audio"
)

// Analyzer inspects a generated artifact: per-channel samples normalized
// to [-1.0, 1.0] plus a mono mixdown for level measurements.
type Analyzer struct {
	channels [][]float64
	mono     []float64
	rate     int
	duration time.Duration
	source   string
}

// NewAnalyzer decodes a WAV or MP3 file into an analyzer.
func NewAnalyzer(path string) (*Analyzer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sound: couldn't read file: %w", err)
	}

	var channels [][]float64
	var rate int
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		channels, rate, err = decodeWAV(b)
	case ".mp3":
		channels, rate, err = decodeMP3(b)
	default:
		return nil, fmt.Errorf("sound: unsupported format %q", ext)
	}
	if err != nil {
		return nil, err
	}

	mono := make([]float64, len(channels[0]))
	for i := range mono {
		var sum float64
		for _, ch := range channels {
			sum += ch[i]
		}
		mono[i] = sum / float64(len(channels))
	}

	duration := time.Duration(float64(len(mono)) / float64(rate) * float64(time.Second))
	return &Analyzer{
		source:   path,
		channels: channels,
		mono:     mono,
		rate:     rate,
		duration: duration,
	}, nil
}

func decodeWAV(b []byte) ([][]float64, int, error) {
	pcm, rate, n, err := audio.DecodeWAV(b)
	if err != nil {
		return nil, 0, fmt.Errorf("sound: couldn't decode wav: %w", err)
	}
	if len(pcm) == 0 {
		return nil, 0, fmt.Errorf("sound: wav has no samples")
	}
	channels := make([][]float64, n)
	for i, sample := range pcm {
		// Normalize sample to float64 range -1.0 to 1.0
		channels[i%n] = append(channels[i%n], float64(sample)/32768.0)
	}
	return channels, rate, nil
}

func decodeMP3(b []byte) ([][]float64, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(b))
	if err != nil {
		return nil, 0, fmt.Errorf("sound: couldn't decode mp3: %w", err)
	}
	var stereo [2][]float64 // go-mp3 always outputs stereo
	buf := make([]byte, 2)  // 2 bytes per sample for 16-bit audio
	var i int
	for {
		_, err := decoder.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("sound: couldn't read sample: %w", err)
		}
		// Convert bytes to 16-bit integer sample, assuming little endian
		sample := int16(buf[0]) | int16(buf[1])<<8
		stereo[i%2] = append(stereo[i%2], float64(sample)/32768.0)
		i++
	}
	if len(stereo[0]) == 0 {
		return nil, 0, fmt.Errorf("sound: mp3 has no samples")
	}
	return [][]float64{stereo[0], stereo[1]}, decoder.SampleRate(), nil
}

func (a *Analyzer) Source() string {
	return a.source
}

func (a *Analyzer) Duration() time.Duration {
	return a.duration
}

func (a *Analyzer) Rate() int {
	return a.rate
}

func (a *Analyzer) Channels() int {
	return len(a.channels)
}

// Peak returns the largest mono sample magnitude.
func (a *Analyzer) Peak() float64 {
	var peak float64
	for _, v := range a.mono {
		if m := math.Abs(v); m > peak {
			peak = m
		}
	}
	return peak
}

// Resample returns min/max pairs per window, for waveform plots.
func (a *Analyzer) Resample(windowSize time.Duration) []float64 {
	samples := a.mono
	windowLength := int(float64(a.rate) * windowSize.Seconds())

	var resampled []float64
	for i := 0; i < len(samples); i += windowLength {
		end := i + windowLength
		if end > len(samples) {
			end = len(samples)
		}
		window := samples[i:end]
		var min, max float64
		for _, v := range window {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		resampled = append(resampled, min)
		resampled = append(resampled, max)
	}
	return resampled
}

// RMS returns the root mean square level per window.
func (a *Analyzer) RMS(windowSize time.Duration) []float64 {
	samples := a.mono
	windowLength := int(float64(a.rate) * windowSize.Seconds())

	var rms []float64
	for i := 0; i < len(samples); i += windowLength {
		end := i + windowLength
		if end > len(samples) {
			end = len(samples)
		}
		window := samples[i:end]
		rms = append(rms, calculateRMS(window))
	}
	return rms
}

func calculateRMS(samples []float64) float64 {
	var squareSum float64
	for _, sample := range samples {
		squareSum += sample * sample
	}
	meanSquare := squareSum / float64(len(samples))
	return math.Sqrt(meanSquare)
}

const silenceRMS = 0.001

// Fragment is a contiguous span of the artifact.
type Fragment struct {
	Start    time.Duration
	End      time.Duration
	Duration time.Duration
	Final    bool
}

// Silences returns the spans where the RMS level stays below the silence
// threshold for at least one second.
func (a *Analyzer) Silences() []Fragment {
	window := 50 * time.Millisecond
	rms := a.RMS(window)

	var fragments []Fragment
	var start int
	var silent bool
	for i, v := range rms {
		if v < silenceRMS {
			if !silent {
				start = i
				silent = true
			}
			continue
		}
		if silent {
			silent = false
			fragments = append(fragments, newFragment(start, i, window, false))
		}
	}
	if silent {
		f := newFragment(start, len(rms), window, true)
		f.End = a.duration
		f.Duration = f.End - f.Start
		fragments = append(fragments, f)
	}
	var out []Fragment
	for _, f := range fragments {
		if f.Duration >= 1*time.Second {
			out = append(out, f)
		}
	}
	return out
}

func newFragment(start, end int, window time.Duration, final bool) Fragment {
	s := time.Duration(start) * window
	e := time.Duration(end) * window
	return Fragment{
		Start:    s,
		End:      e,
		Duration: e - s,
		Final:    final,
	}
}

// EndSilence returns the duration of trailing silence, zero when the
// artifact ends on signal.
func (a *Analyzer) EndSilence() time.Duration {
	silences := a.Silences()
	if len(silences) == 0 {
		return 0
	}
	last := silences[len(silences)-1]
	if !last.Final {
		return 0
	}
	return last.Duration
}
