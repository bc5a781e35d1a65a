package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/musegen/musegen/pkg/audio"
	"github.com/musegen/musegen/pkg/filestore"
	"github.com/musegen/musegen/pkg/job"
	"github.com/musegen/musegen/pkg/pipeline"
	"github.com/musegen/musegen/pkg/storage"
	"github.com/oklog/ulid/v2"
)

type Config struct {
	Debug           bool
	DefaultDuration int

	// Propagate returns per-job errors to the caller instead of
	// converting them into an error response. Opt-in, for dispatch
	// runtimes that handle failures themselves.
	Propagate bool

	Manager *pipeline.Manager
	Store   *storage.Store   // optional, records handled jobs
	Files   *filestore.Store // optional, uploads WAV artifacts
}

// Worker handles generation jobs one at a time: it resolves parameters,
// obtains the backend handle, invokes it, post-processes the waveform
// and encodes the result for transport. Failures inside a job are
// captured and reported as an error response; a failed backend
// construction marks the worker unusable.
type Worker struct {
	cfg     *Config
	manager *pipeline.Manager
	debug   func(format string, args ...any)
}

func New(cfg *Config) *Worker {
	debug := func(format string, args ...any) {
		if !cfg.Debug {
			return
		}
		format += "\n"
		log.Printf(format, args...)
	}
	return &Worker{
		cfg:     cfg,
		manager: cfg.Manager,
		debug:   debug,
	}
}

// Err reports the startup class failure, if any. Once it returns non-nil
// the worker must not be handed more jobs.
func (w *Worker) Err() error {
	return w.manager.Err()
}

// Handle runs a single generation job and returns its response. With the
// default policy it never returns an error for job failures: they are
// logged and converted into an error response.
func (w *Worker) Handle(ctx context.Context, req *job.Request) (*job.Response, error) {
	id := ulid.Make().String()
	resp, err := w.handle(ctx, id, req)
	if err != nil {
		log.Printf("worker: job %s failed: %v\n", id, err)
		w.record(ctx, id, req, nil, err)
		if w.cfg.Propagate {
			return nil, err
		}
		return &job.Response{Error: err.Error()}, nil
	}
	return resp, nil
}

func (w *Worker) handle(ctx context.Context, id string, req *job.Request) (*job.Response, error) {
	p := job.Resolve(req, w.cfg.DefaultDuration)
	w.debug("worker: job %s: generating %ds audio", id, p.Duration)

	generator, err := w.manager.Get(ctx)
	if err != nil {
		return nil, err
	}

	// Reapply the seed on every invocation so repeated jobs with the
	// same seed reproduce.
	if p.Seed != nil {
		pipeline.Reseed(*p.Seed)
	}
	raw, err := generator.Generate(ctx, &pipeline.GenerateRequest{
		Prompt:         p.Prompt,
		Duration:       p.Duration,
		InferenceSteps: p.InferenceSteps,
		GuidanceScale:  p.GuidanceScale,
		Seed:           p.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: couldn't generate: %w", err)
	}

	buf, err := pipeline.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("worker: couldn't normalize result: %w", err)
	}
	buf.Normalize()
	pcm, err := buf.Quantize()
	if err != nil {
		return nil, fmt.Errorf("worker: couldn't quantize: %w", err)
	}
	container, err := audio.EncodeWAV(pcm, buf.Rate, buf.Channels())
	if err != nil {
		return nil, fmt.Errorf("worker: couldn't encode wav: %w", err)
	}

	resp := &job.Response{
		AudioBase64: base64.StdEncoding.EncodeToString(container),
		Duration:    p.Duration,
		SampleRate:  buf.Rate,
	}
	if w.cfg.Files != nil {
		name, err := w.upload(ctx, id, container)
		if err != nil {
			return nil, err
		}
		resp.Filename = name
	}
	w.record(ctx, id, req, buf, nil)
	w.debug("worker: job %s: done (%d samples)", id, buf.Len())
	return resp, nil
}

func (w *Worker) upload(ctx context.Context, id string, container []byte) (string, error) {
	path := filepath.Join(os.TempDir(), filestore.WAV(id))
	if err := os.WriteFile(path, container, 0644); err != nil {
		return "", fmt.Errorf("worker: couldn't write artifact: %w", err)
	}
	defer os.Remove(path)
	if err := w.cfg.Files.SetWAV(ctx, path, id); err != nil {
		return "", fmt.Errorf("worker: couldn't upload artifact: %w", err)
	}
	return filestore.WAV(id), nil
}

func (w *Worker) record(ctx context.Context, id string, req *job.Request, buf *audio.Buffer, jobErr error) {
	if w.cfg.Store == nil {
		return
	}
	p := job.Resolve(req, w.cfg.DefaultDuration)
	gen := &storage.Generation{
		ID:             id,
		Tags:           req.Tags,
		Lyrics:         req.Lyrics,
		Prompt:         p.Prompt,
		Duration:       p.Duration,
		Seed:           p.Seed,
		InferenceSteps: p.InferenceSteps,
		GuidanceScale:  p.GuidanceScale,
		Strategy:       w.manager.Strategy(),
		Done:           jobErr == nil,
	}
	if buf != nil {
		gen.SampleRate = buf.Rate
		gen.Samples = buf.Len()
		if w.cfg.Files != nil {
			gen.Filename = filestore.WAV(id)
		}
	}
	if jobErr != nil {
		gen.Error = jobErr.Error()
	}
	if err := w.cfg.Store.SetGeneration(ctx, gen); err != nil {
		log.Printf("worker: couldn't record job %s: %v\n", id, err)
	}
}
