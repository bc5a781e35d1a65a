package audio

import (
	"bytes"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		pcm      []int16
		channels int
	}{
		{"mono", []int16{0, 100, -100, 32767, -32767}, 1},
		{"stereo", []int16{0, 1, 2, 3, 4, 5}, 2},
		{"silence", make([]int16, 441), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeWAV(tt.pcm, SampleRate, tt.channels)
			if err != nil {
				t.Fatalf("EncodeWAV() err = %v; want nil", err)
			}
			pcm, rate, channels, err := DecodeWAV(b)
			if err != nil {
				t.Fatalf("DecodeWAV() err = %v; want nil", err)
			}
			if rate != SampleRate {
				t.Errorf("DecodeWAV() rate = %d; want %d", rate, SampleRate)
			}
			if channels != tt.channels {
				t.Errorf("DecodeWAV() channels = %d; want %d", channels, tt.channels)
			}
			if len(pcm) != len(tt.pcm) {
				t.Fatalf("DecodeWAV() len = %d; want %d", len(pcm), len(tt.pcm))
			}
			for i, v := range pcm {
				if v != tt.pcm[i] {
					t.Fatalf("DecodeWAV() sample %d = %d; want %d", i, v, tt.pcm[i])
				}
			}
		})
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	b, err := EncodeWAV([]int16{1, 2, 3}, SampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() err = %v; want nil", err)
	}
	if !bytes.HasPrefix(b, []byte("RIFF")) {
		t.Errorf("EncodeWAV() missing RIFF magic")
	}
	if string(b[8:12]) != "WAVE" {
		t.Errorf("EncodeWAV() missing WAVE id")
	}
	if want := 44 + 3*2; len(b) != want {
		t.Errorf("EncodeWAV() len = %d; want %d", len(b), want)
	}
}

func TestEncodeWAVDeterministic(t *testing.T) {
	pcm := []int16{5, -5, 10, -10}
	a, err := EncodeWAV(pcm, SampleRate, 2)
	if err != nil {
		t.Fatalf("EncodeWAV() err = %v; want nil", err)
	}
	b, err := EncodeWAV(pcm, SampleRate, 2)
	if err != nil {
		t.Fatalf("EncodeWAV() err = %v; want nil", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("EncodeWAV() not deterministic")
	}
}

func TestEncodeWAVInvalid(t *testing.T) {
	if _, err := EncodeWAV(nil, 0, 1); err == nil {
		t.Error("EncodeWAV() with zero rate: err = nil; want error")
	}
	if _, err := EncodeWAV(nil, SampleRate, 0); err == nil {
		t.Error("EncodeWAV() with zero channels: err = nil; want error")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"not riff", []byte("NOTRIFFDATAWAVE")},
		{"truncated", []byte("RIFF\x00\x00\x00\x00WAVEfmt \xff\xff\xff\xff")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := DecodeWAV(tt.in); err == nil {
				t.Fatal("DecodeWAV() err = nil; want error")
			}
		})
	}
}
