package musegen

import (
	"context"
	"time"

	"github.com/musegen/musegen/pkg/job"
	"github.com/musegen/musegen/pkg/pipeline"
	"github.com/musegen/musegen/pkg/worker"
)

type Config struct {
	Debug           bool
	ServiceURL      string
	Bin             string
	Wait            time.Duration
	DefaultDuration int
}

// Generate runs a single generation job and returns the encoded track.
func Generate(ctx context.Context, cfg *Config, req *job.Request) (*job.Response, error) {
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
	return wrk.Handle(ctx, req)
}
