package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ServiceConfig configures the HTTP inference service backend.
type ServiceConfig struct {
	URL    string
	Wait   time.Duration
	Debug  bool
	Client *http.Client
}

type service struct {
	url    string
	wait   time.Duration
	debug  bool
	client *http.Client
}

// NewService returns a Generator backed by the generation HTTP service.
// It probes the service health endpoint so construction fails fast when
// the service isn't reachable.
func NewService(ctx context.Context, cfg *ServiceConfig) (Generator, error) {
	wait := cfg.Wait
	if wait == 0 {
		wait = 1 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Minute,
		}
	}
	s := &service{
		url:    strings.TrimSuffix(cfg.URL, "/"),
		wait:   wait,
		debug:  cfg.Debug,
		client: client,
	}
	if err := s.ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *service) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("service: couldn't create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("service: couldn't reach %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service: health check returned %s", resp.Status)
	}
	return nil
}

type generateRequest struct {
	Prompt            string  `json:"prompt"`
	Duration          int     `json:"duration"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	Seed              *int64  `json:"seed,omitempty"`
}

func (s *service) Generate(ctx context.Context, req *GenerateRequest) (any, error) {
	in := &generateRequest{
		Prompt:            req.Prompt,
		Duration:          req.Duration,
		NumInferenceSteps: req.InferenceSteps,
		GuidanceScale:     req.GuidanceScale,
		Seed:              req.Seed,
	}
	var out any
	if err := s.do(ctx, http.MethodPost, "generate", in, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("service: couldn't marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	u := fmt.Sprintf("%s/%s", s.url, path)
	maxAttempts := 3
	var attempts int
	for {
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return fmt.Errorf("service: couldn't create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("service: couldn't %s %s: %w", method, u, err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("service: couldn't read response: %w", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			attempts++
			if attempts >= maxAttempts {
				return fmt.Errorf("service: %s %s returned %s: %s", method, u, resp.Status, string(data))
			}
			wait := s.wait + jitter(s.wait)
			if s.debug {
				log.Printf("service: %s, retrying in %s\n", resp.Status, wait)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("service: %w", ctx.Err())
			case <-time.After(wait):
			}
			if in != nil {
				b, _ := json.Marshal(in)
				body = bytes.NewReader(b)
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("service: %s %s returned %s: %s", method, u, resp.Status, string(data))
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("service: couldn't unmarshal response: %w", err)
			}
		}
		return nil
	}
}
