package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/musegen/musegen/pkg/audio"
)

// AudioCarrier is implemented by backend results that expose their
// waveform as an attribute instead of returning it directly.
type AudioCarrier interface {
	Audio() any
}

// Envelope is the typed result form used by in-process backends.
type Envelope struct {
	Samples any
}

func (e Envelope) Audio() any { return e.Samples }

// Normalize resolves a raw backend result into a canonical audio buffer.
// Results come in three shapes, tried in order: a value exposing its
// audio attribute, a mapping containing an "audio" key, or the waveform
// itself. Sample payloads may be float64/float32 slices, per-channel
// slices of those, or generic decoded JSON arrays.
func Normalize(v any) (*audio.Buffer, error) {
	if c, ok := v.(AudioCarrier); ok {
		v = c.Audio()
	} else if m, ok := v.(map[string]any); ok {
		inner, ok := m["audio"]
		if !ok {
			return nil, fmt.Errorf("pipeline: result mapping has no audio key")
		}
		v = inner
	}
	return toBuffer(v)
}

func toBuffer(v any) (*audio.Buffer, error) {
	switch t := v.(type) {
	case *audio.Buffer:
		return t, nil
	case []float64:
		return audio.Mono(t), nil
	case []float32:
		return audio.Mono(floats32(t)), nil
	case [][]float64:
		return audio.New(t), nil
	case [][]float32:
		channels := make([][]float64, len(t))
		for i, ch := range t {
			channels[i] = floats32(ch)
		}
		return audio.New(channels), nil
	case []any:
		return fromJSON(t)
	case nil:
		return nil, fmt.Errorf("pipeline: result has no audio")
	default:
		return nil, fmt.Errorf("pipeline: unsupported result type %T", v)
	}
}

// fromJSON handles waveforms that went through generic JSON decoding:
// either a flat array of numbers or an array of per-channel arrays.
func fromJSON(values []any) (*audio.Buffer, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("pipeline: result waveform is empty")
	}
	if _, ok := values[0].([]any); ok {
		channels := make([][]float64, 0, len(values))
		for i, v := range values {
			inner, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("pipeline: mixed waveform shapes at channel %d", i)
			}
			ch, err := floats(inner)
			if err != nil {
				return nil, err
			}
			channels = append(channels, ch)
		}
		return audio.New(channels), nil
	}
	ch, err := floats(values)
	if err != nil {
		return nil, err
	}
	return audio.Mono(ch), nil
}

func floats(values []any) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case float64:
			out[i] = t
		case float32:
			out[i] = float64(t)
		case int:
			out[i] = float64(t)
		case json.Number:
			f, err := t.Float64()
			if err != nil {
				return nil, fmt.Errorf("pipeline: invalid sample %q: %w", t, err)
			}
			out[i] = f
		default:
			return nil, fmt.Errorf("pipeline: unsupported sample type %T", v)
		}
	}
	return out, nil
}

func floats32(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
