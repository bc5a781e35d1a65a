package generate

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/musegen/musegen/pkg/job"
	"github.com/musegen/musegen/pkg/pipeline"
	"github.com/musegen/musegen/pkg/worker"
)

type Config struct {
	Debug  bool
	Output string

	Tags           string
	Lyrics         string
	Duration       int
	Seed           int64
	InferenceSteps int
	GuidanceScale  float64

	ServiceURL      string
	Bin             string
	Wait            time.Duration
	DefaultDuration int
}

// Run generates a single track and writes it to the output file.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("generate: process started")
	defer log.Println("generate: process ended")

	if cfg.Output == "" {
		return fmt.Errorf("generate: output file is required")
	}

	manager := pipeline.NewManager(pipeline.Strategies(&pipeline.Config{
		ServiceURL: cfg.ServiceURL,
		Bin:        cfg.Bin,
		Wait:       cfg.Wait,
		Debug:      cfg.Debug,
	}))
	wrk := worker.New(&worker.Config{
		Debug:           cfg.Debug,
		DefaultDuration: cfg.DefaultDuration,
		Propagate:       true,
		Manager:         manager,
	})

	req := &job.Request{
		Tags:           cfg.Tags,
		Lyrics:         cfg.Lyrics,
		Duration:       cfg.Duration,
		InferenceSteps: cfg.InferenceSteps,
		GuidanceScale:  cfg.GuidanceScale,
	}
	// A negative seed means no seed was given.
	if cfg.Seed >= 0 {
		seed := cfg.Seed
		req.Seed = &seed
	}

	start := time.Now()
	resp, err := wrk.Handle(ctx, req)
	if err != nil {
		return fmt.Errorf("generate: couldn't generate track: %w", err)
	}
	container, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return fmt.Errorf("generate: couldn't decode audio: %w", err)
	}
	if err := os.WriteFile(cfg.Output, container, 0644); err != nil {
		return fmt.Errorf("generate: couldn't write output: %w", err)
	}
	log.Printf("generate: wrote %s (%ds at %d Hz) in %s\n", cfg.Output, resp.Duration, resp.SampleRate, time.Since(start))
	return nil
}
