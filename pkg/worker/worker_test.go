package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/musegen/musegen/pkg/audio"
	"github.com/musegen/musegen/pkg/filestore"
	"github.com/musegen/musegen/pkg/job"
	"github.com/musegen/musegen/pkg/pipeline"
)

type fakeBackend struct {
	generate func(ctx context.Context, req *pipeline.GenerateRequest) (any, error)
	requests []*pipeline.GenerateRequest
}

func (f *fakeBackend) Generate(ctx context.Context, req *pipeline.GenerateRequest) (any, error) {
	f.requests = append(f.requests, req)
	return f.generate(ctx, req)
}

func newTestWorker(backend *fakeBackend) *Worker {
	manager := pipeline.NewManager([]pipeline.Strategy{{
		Name: "fake",
		New: func(ctx context.Context) (pipeline.Generator, error) {
			return backend, nil
		},
	}})
	return New(&Config{Manager: manager})
}

func TestHandleSuccess(t *testing.T) {
	samples := make([]float64, 30*audio.SampleRate)
	for i := range samples {
		samples[i] = 0.5
	}
	backend := &fakeBackend{
		generate: func(ctx context.Context, req *pipeline.GenerateRequest) (any, error) {
			if req.Prompt != "warm, acoustic\n\n[verse]\nhello" {
				t.Errorf("prompt = %q", req.Prompt)
			}
			return map[string]any{"audio": samples}, nil
		},
	}
	w := newTestWorker(backend)

	resp, err := w.Handle(context.Background(), &job.Request{
		Tags:     "warm, acoustic",
		Lyrics:   "[verse]\nhello",
		Duration: 30,
	})
	if err != nil {
		t.Fatalf("Handle() err = %v; want nil", err)
	}
	if resp.Error != "" {
		t.Fatalf("Handle() error = %q; want empty", resp.Error)
	}
	if resp.Duration != 30 {
		t.Errorf("Handle() duration = %d; want 30", resp.Duration)
	}
	if resp.SampleRate != audio.SampleRate {
		t.Errorf("Handle() sample rate = %d; want %d", resp.SampleRate, audio.SampleRate)
	}

	container, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		t.Fatalf("couldn't decode audio: %v", err)
	}
	pcm, rate, channels, err := audio.DecodeWAV(container)
	if err != nil {
		t.Fatalf("couldn't parse wav: %v", err)
	}
	if rate != audio.SampleRate {
		t.Errorf("wav rate = %d; want %d", rate, audio.SampleRate)
	}
	if channels != 1 {
		t.Errorf("wav channels = %d; want 1", channels)
	}
	if len(pcm) != len(samples) {
		t.Errorf("wav samples = %d; want %d", len(pcm), len(samples))
	}
}

func TestHandleBackendFailure(t *testing.T) {
	fail := true
	backend := &fakeBackend{
		generate: func(ctx context.Context, req *pipeline.GenerateRequest) (any, error) {
			if fail {
				return nil, errors.New("cuda out of memory")
			}
			return []float64{0.1, 0.2}, nil
		},
	}
	w := newTestWorker(backend)

	resp, err := w.Handle(context.Background(), &job.Request{Lyrics: "la"})
	if err != nil {
		t.Fatalf("Handle() err = %v; want nil", err)
	}
	if resp.Error == "" {
		t.Fatal("Handle() error empty; want failure message")
	}
	if resp.AudioBase64 != "" {
		t.Error("Handle() failure response carries audio")
	}

	// The worker stays usable for the next job
	if w.Err() != nil {
		t.Fatalf("Err() = %v after job failure; want nil", w.Err())
	}
	fail = false
	resp, err = w.Handle(context.Background(), &job.Request{Lyrics: "la"})
	if err != nil {
		t.Fatalf("Handle() err = %v; want nil", err)
	}
	if resp.Error != "" {
		t.Fatalf("Handle() error = %q; want empty", resp.Error)
	}
}

func TestHandlePropagate(t *testing.T) {
	backend := &fakeBackend{
		generate: func(ctx context.Context, req *pipeline.GenerateRequest) (any, error) {
			return nil, errors.New("boom")
		},
	}
	manager := pipeline.NewManager([]pipeline.Strategy{{
		Name: "fake",
		New: func(ctx context.Context) (pipeline.Generator, error) {
			return backend, nil
		},
	}})
	w := New(&Config{Manager: manager, Propagate: true})

	if _, err := w.Handle(context.Background(), &job.Request{}); err == nil {
		t.Fatal("Handle() err = nil with Propagate; want error")
	}
}

func TestHandleZeroBuffer(t *testing.T) {
	backend := &fakeBackend{
		generate: func(ctx context.Context, req *pipeline.GenerateRequest) (any, error) {
			return make([]float64, 1000), nil
		},
	}
	w := newTestWorker(backend)

	resp, err := w.Handle(context.Background(), &job.Request{})
	if err != nil {
		t.Fatalf("Handle() err = %v; want nil", err)
	}
	if resp.Error != "" {
		t.Fatalf("Handle() error = %q; want empty", resp.Error)
	}
	container, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		t.Fatal(err)
	}
	pcm, _, _, err := audio.DecodeWAV(container)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range pcm {
		if v != 0 {
			t.Fatalf("pcm sample %d = %d; want 0", i, v)
		}
	}
}

func TestHandleSeedForwarded(t *testing.T) {
	backend := &fakeBackend{
		generate: func(ctx context.Context, req *pipeline.GenerateRequest) (any, error) {
			return []float64{0.1}, nil
		},
	}
	w := newTestWorker(backend)

	seed := int64(1234)
	if _, err := w.Handle(context.Background(), &job.Request{Seed: &seed}); err != nil {
		t.Fatalf("Handle() err = %v; want nil", err)
	}
	if len(backend.requests) != 1 {
		t.Fatalf("requests = %d; want 1", len(backend.requests))
	}
	got := backend.requests[0]
	if got.Seed == nil || *got.Seed != seed {
		t.Fatalf("request seed = %v; want %d", got.Seed, seed)
	}
	if got.InferenceSteps != job.DefaultInferenceSteps {
		t.Errorf("request steps = %d; want %d", got.InferenceSteps, job.DefaultInferenceSteps)
	}
	if got.GuidanceScale != job.DefaultGuidanceScale {
		t.Errorf("request guidance = %f; want %f", got.GuidanceScale, job.DefaultGuidanceScale)
	}
}

func TestHandleUploadsArtifact(t *testing.T) {
	backend := &fakeBackend{
		generate: func(ctx context.Context, req *pipeline.GenerateRequest) (any, error) {
			return []float64{0.1, -0.2, 0.3}, nil
		},
	}
	manager := pipeline.NewManager([]pipeline.Strategy{{
		Name: "fake",
		New: func(ctx context.Context) (pipeline.Generator, error) {
			return backend, nil
		},
	}})
	dir := t.TempDir()
	fs, err := filestore.New("local", dir, false)
	if err != nil {
		t.Fatalf("couldn't create file storage: %v", err)
	}
	w := New(&Config{Manager: manager, Files: fs})

	resp, err := w.Handle(context.Background(), &job.Request{Lyrics: "la"})
	if err != nil {
		t.Fatalf("Handle() err = %v; want nil", err)
	}
	if resp.Error != "" {
		t.Fatalf("Handle() error = %q; want empty", resp.Error)
	}
	if resp.Filename == "" {
		t.Fatal("Handle() filename empty; want uploaded artifact name")
	}
	if filepath.Ext(resp.Filename) != ".wav" {
		t.Errorf("filename = %q; want .wav extension", resp.Filename)
	}

	stored, err := os.ReadFile(filepath.Join(dir, resp.Filename))
	if err != nil {
		t.Fatalf("couldn't read uploaded artifact: %v", err)
	}
	container, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, container) {
		t.Error("uploaded artifact differs from response audio")
	}
}

func TestHandleStartupFailure(t *testing.T) {
	manager := pipeline.NewManager([]pipeline.Strategy{{
		Name: "broken",
		New: func(ctx context.Context) (pipeline.Generator, error) {
			return nil, errors.New("model weights missing")
		},
	}})
	w := New(&Config{Manager: manager})

	resp, err := w.Handle(context.Background(), &job.Request{})
	if err != nil {
		t.Fatalf("Handle() err = %v; want nil", err)
	}
	if resp.Error == "" {
		t.Fatal("Handle() error empty; want startup failure message")
	}
	if !errors.Is(w.Err(), pipeline.ErrUnavailable) {
		t.Fatalf("Err() = %v; want ErrUnavailable", w.Err())
	}
}
