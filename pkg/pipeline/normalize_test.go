package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/musegen/musegen/pkg/audio"
)

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		channels int
		length   int
	}{
		{"envelope", Envelope{Samples: []float64{0.1, 0.2}}, 1, 2},
		{"mapping", map[string]any{"audio": []float64{0.1, 0.2, 0.3}}, 1, 3},
		{"raw float64", []float64{0.5}, 1, 1},
		{"raw float32", []float32{0.5, -0.5}, 1, 2},
		{"raw stereo", [][]float64{{0.1, 0.2}, {0.3, 0.4}}, 2, 2},
		{"decoded json mono", []any{0.1, 0.2, 0.3, 0.4}, 1, 4},
		{"decoded json stereo", []any{[]any{0.1, 0.2}, []any{0.3, 0.4}}, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize() err = %v; want nil", err)
			}
			if buf.Channels() != tt.channels {
				t.Errorf("Normalize() channels = %d; want %d", buf.Channels(), tt.channels)
			}
			if buf.Len() != tt.length {
				t.Errorf("Normalize() len = %d; want %d", buf.Len(), tt.length)
			}
			if buf.Rate != audio.SampleRate {
				t.Errorf("Normalize() rate = %d; want %d", buf.Rate, audio.SampleRate)
			}
		})
	}
}

func TestNormalizeResolutionOrder(t *testing.T) {
	// A carrier wins over the fallback interpretation of the same value
	buf, err := Normalize(Envelope{Samples: []float64{1, 2, 3}})
	if err != nil {
		t.Fatalf("Normalize() err = %v; want nil", err)
	}
	if buf.Len() != 3 {
		t.Fatalf("Normalize() len = %d; want 3", buf.Len())
	}
}

func TestNormalizeJSONRoundTrip(t *testing.T) {
	// A service response decoded with encoding/json lands as
	// map[string]any with []any samples.
	var v any
	if err := json.Unmarshal([]byte(`{"audio": [0.0, 0.5, -0.5]}`), &v); err != nil {
		t.Fatal(err)
	}
	buf, err := Normalize(v)
	if err != nil {
		t.Fatalf("Normalize() err = %v; want nil", err)
	}
	want := []float64{0.0, 0.5, -0.5}
	for i, s := range buf.Samples[0] {
		if s != want[i] {
			t.Fatalf("Normalize() sample %d = %v; want %v", i, s, want[i])
		}
	}
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"mapping without audio", map[string]any{"waveform": []float64{1}}},
		{"unsupported type", "audio"},
		{"empty json array", []any{}},
		{"mixed json shapes", []any{[]any{0.1}, 0.2}},
		{"non numeric samples", []any{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.in); err == nil {
				t.Fatal("Normalize() err = nil; want error")
			}
		})
	}
}
