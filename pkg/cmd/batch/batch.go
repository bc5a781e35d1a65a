package batch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/musegen/musegen/pkg/filestore"
	"github.com/musegen/musegen/pkg/job"
	"github.com/musegen/musegen/pkg/pipeline"
	"github.com/musegen/musegen/pkg/storage"
	"github.com/musegen/musegen/pkg/worker"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	FSType string
	FSConn string

	Input  string
	Output string
	Limit  int

	ServiceURL      string
	Bin             string
	Wait            time.Duration
	DefaultDuration int
}

// Run generates a track for every job in the input file.
func Run(ctx context.Context, cfg *Config) error {
	var count int
	log.Println("batch: process started")
	defer func() {
		log.Printf("batch: process ended (%d)\n", count)
	}()

	debug := func(format string, args ...interface{}) {
		if !cfg.Debug {
			return
		}
		format += "\n"
		log.Printf(format, args...)
	}

	b, err := os.ReadFile(cfg.Input)
	if err != nil {
		return fmt.Errorf("batch: couldn't read input file: %w", err)
	}

	ext := filepath.Ext(cfg.Input)
	var unmarshal func([]byte) ([]*job.Request, error)
	switch ext {
	case ".json":
		unmarshal = func(b []byte) ([]*job.Request, error) {
			var rs []*job.Request
			if err := json.Unmarshal(b, &rs); err != nil {
				return nil, fmt.Errorf("couldn't unmarshal jobs: %w", err)
			}
			return rs, nil
		}
	case ".csv":
		unmarshal = func(b []byte) ([]*job.Request, error) {
			var rs []*job.Request
			if err := gocsv.UnmarshalBytes(b, &rs); err != nil {
				return nil, fmt.Errorf("couldn't unmarshal jobs: %w", err)
			}
			return rs, nil
		}
	default:
		return fmt.Errorf("batch: unsupported input format: %s", ext)
	}
	reqs, err := unmarshal(b)
	if err != nil {
		return fmt.Errorf("batch: couldn't unmarshal input: %w", err)
	}

	var store *storage.Store
	if cfg.DBType != "" {
		store, err = storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
		if err != nil {
			return fmt.Errorf("batch: couldn't create orm store: %w", err)
		}
		if err := store.Start(ctx); err != nil {
			return fmt.Errorf("batch: couldn't start orm store: %w", err)
		}
	}

	var fs *filestore.Store
	if cfg.FSType != "" {
		fs, err = filestore.New(cfg.FSType, cfg.FSConn, cfg.Debug)
		if err != nil {
			return fmt.Errorf("batch: couldn't create file storage: %w", err)
		}
	}

	if cfg.Output != "" {
		if err := os.MkdirAll(cfg.Output, 0755); err != nil {
			return fmt.Errorf("batch: couldn't create output folder: %w", err)
		}
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
		Manager:         manager,
		Store:           store,
		Files:           fs,
	})

	// Print time stats
	start := time.Now()
	defer func() {
		if count == 0 {
			return
		}
		total := time.Since(start)
		log.Printf("batch: total time %s, average time %s\n", total, total/time.Duration(count))
	}()

	nErr := 0
	for i, req := range reqs {
		if cfg.Limit > 0 && count >= cfg.Limit {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("batch: %w", ctx.Err())
		default:
		}
		debug("batch: job %d/%d", i+1, len(reqs))

		resp, err := wrk.Handle(ctx, req)
		if err != nil {
			return fmt.Errorf("batch: couldn't handle job %d: %w", i+1, err)
		}
		if resp.Error != "" {
			log.Printf("batch: job %d failed: %s\n", i+1, resp.Error)
			if err := wrk.Err(); err != nil {
				return fmt.Errorf("batch: worker unavailable: %w", err)
			}
			nErr++
			if nErr > 10 {
				return fmt.Errorf("batch: too many consecutive errors")
			}
			continue
		}
		nErr = 0
		count++

		if cfg.Output != "" {
			container, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
			if err != nil {
				return fmt.Errorf("batch: couldn't decode audio: %w", err)
			}
			out := filepath.Join(cfg.Output, fmt.Sprintf("track-%03d.wav", i+1))
			if err := os.WriteFile(out, container, 0644); err != nil {
				return fmt.Errorf("batch: couldn't write output: %w", err)
			}
			debug("batch: wrote %s", out)
		}
	}
	return nil
}
