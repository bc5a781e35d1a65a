package serve

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/musegen/musegen/pkg/audio"
	"github.com/musegen/musegen/pkg/filestore"
	"github.com/musegen/musegen/pkg/job"
	"github.com/musegen/musegen/pkg/pipeline"
	"github.com/musegen/musegen/pkg/storage"
	"github.com/musegen/musegen/pkg/worker"
)

type fakeBackend struct {
	last *pipeline.GenerateRequest
}

func (f *fakeBackend) Generate(ctx context.Context, req *pipeline.GenerateRequest) (any, error) {
	f.last = req
	return &pipeline.Envelope{Samples: []float64{0.0, 0.5, -0.5, 0.25}}, nil
}

func newTestHandler(t *testing.T) (http.Handler, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	manager := pipeline.NewManager([]pipeline.Strategy{{
		Name: "fake",
		New: func(ctx context.Context) (pipeline.Generator, error) {
			return backend, nil
		},
	}})
	wrk := worker.New(&worker.Config{
		DefaultDuration: 30,
		Manager:         manager,
	})
	return NewHandler(wrk, nil, nil, ""), backend
}

func TestHandlerRun(t *testing.T) {
	handler, backend := newTestHandler(t)

	body := `{"input":{"tags":"rock, guitar","lyrics":"la la la","duration":10}}`
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp job.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("couldn't decode response: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error response: %s", resp.Error)
	}
	if resp.SampleRate != audio.SampleRate {
		t.Errorf("sample rate: got %d, want %d", resp.SampleRate, audio.SampleRate)
	}
	if resp.Duration != 10 {
		t.Errorf("duration: got %d, want 10", resp.Duration)
	}
	container, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		t.Fatalf("couldn't decode audio: %v", err)
	}
	if _, _, _, err := audio.DecodeWAV(container); err != nil {
		t.Fatalf("couldn't decode wav: %v", err)
	}
	if want := "rock, guitar\n\nla la la"; backend.last.Prompt != want {
		t.Errorf("prompt: got %q, want %q", backend.last.Prompt, want)
	}
}

func TestHandlerRunBareRequest(t *testing.T) {
	handler, backend := newTestHandler(t)

	body := `{"lyrics":"just lyrics"}`
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if backend.last.Prompt != "just lyrics" {
		t.Errorf("prompt: got %q, want %q", backend.last.Prompt, "just lyrics")
	}
	if backend.last.Duration != 30 {
		t.Errorf("duration: got %d, want 30", backend.last.Duration)
	}
}

func TestHandlerRunInvalidBody(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandlerHealth(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHandlerGenerations(t *testing.T) {
	ctx := context.Background()
	store, err := storage.New("sqlite", filepath.Join(t.TempDir(), "test.db"), false)
	if err != nil {
		t.Fatalf("couldn't create store: %v", err)
	}
	if err := store.Start(ctx); err != nil {
		t.Fatalf("couldn't start store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("couldn't migrate store: %v", err)
	}
	fs, err := filestore.New("local", t.TempDir(), false)
	if err != nil {
		t.Fatalf("couldn't create file storage: %v", err)
	}

	backend := &fakeBackend{}
	manager := pipeline.NewManager([]pipeline.Strategy{{
		Name: "fake",
		New: func(ctx context.Context) (pipeline.Generator, error) {
			return backend, nil
		},
	}})
	wrk := worker.New(&worker.Config{
		DefaultDuration: 30,
		Manager:         manager,
		Store:           store,
		Files:           fs,
	})
	handler := NewHandler(wrk, store, fs, t.TempDir())

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"input":{"lyrics":"la"}}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("run status: got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/generations?done=true", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status: got %d: %s", w.Code, w.Body.String())
	}
	var generations []*storage.Generation
	if err := json.Unmarshal(w.Body.Bytes(), &generations); err != nil {
		t.Fatalf("couldn't decode generations: %v", err)
	}
	if len(generations) != 1 {
		t.Fatalf("generations: got %d, want 1", len(generations))
	}
	g := generations[0]
	if !g.Done {
		t.Error("generation not marked done")
	}
	if g.Filename == "" {
		t.Error("generation has no filename")
	}

	req = httptest.NewRequest(http.MethodGet, "/generations/"+g.ID, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status: got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/generations/"+g.ID+"/audio", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("audio status: got %d: %s", w.Code, w.Body.String())
	}
	if _, _, _, err := audio.DecodeWAV(w.Body.Bytes()); err != nil {
		t.Fatalf("couldn't decode served wav: %v", err)
	}

	req = httptest.NewRequest(http.MethodDelete, "/generations/"+g.ID, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status: got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/generations/"+g.ID, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status: got %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandlerUnavailableWorker(t *testing.T) {
	manager := pipeline.NewManager([]pipeline.Strategy{{
		Name: "broken",
		New: func(ctx context.Context) (pipeline.Generator, error) {
			return nil, errors.New("no backend installed")
		},
	}})
	wrk := worker.New(&worker.Config{
		DefaultDuration: 30,
		Manager:         manager,
	})
	handler := NewHandler(wrk, nil, nil, "")

	// First job triggers backend construction, which fails and is
	// reported as an error response.
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"input":{"lyrics":"x"}}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	var resp job.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("couldn't decode response: %v", err)
	}
	if resp.Error == "" {
		t.Fatal("expected error response")
	}

	// From then on the worker is unusable.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status: got %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	req = httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"input":{"lyrics":"x"}}`))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("run status: got %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
