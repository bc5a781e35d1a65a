package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// ErrUnavailable is returned by Manager.Get when every construction
// strategy failed. It is a startup class error: the process can't serve
// any generation job.
var ErrUnavailable = errors.New("pipeline: no backend available")

// GenerateRequest carries the resolved parameters of one invocation.
type GenerateRequest struct {
	Prompt         string
	Duration       int
	InferenceSteps int
	GuidanceScale  float64
	Seed           *int64
}

// Generator is the generation entry point of a backend. The returned
// value is one of the raw result shapes accepted by Normalize.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (any, error)
}

// Strategy is a named way of constructing a backend handle. New either
// returns a fully usable Generator or an error, never a partial handle.
type Strategy struct {
	Name string
	New  func(ctx context.Context) (Generator, error)
}

// Config configures the default construction strategies.
type Config struct {
	ServiceURL string
	Bin        string
	Wait       time.Duration
	Debug      bool
	Client     *http.Client
}

// Strategies returns the ordered construction strategies for cfg: the
// HTTP inference service when a URL is configured, then the local
// generation binary.
func Strategies(cfg *Config) []Strategy {
	var strategies []Strategy
	if cfg.ServiceURL != "" {
		strategies = append(strategies, Strategy{
			Name: "service",
			New: func(ctx context.Context) (Generator, error) {
				return NewService(ctx, &ServiceConfig{
					URL:    cfg.ServiceURL,
					Wait:   cfg.Wait,
					Debug:  cfg.Debug,
					Client: cfg.Client,
				})
			},
		})
	}
	strategies = append(strategies, Strategy{
		Name: "local",
		New: func(ctx context.Context) (Generator, error) {
			return NewLocal(ctx, cfg.Bin, cfg.Debug)
		},
	})
	return strategies
}

// Manager owns the process wide backend handle. The handle is constructed
// lazily on the first Get and cached for the lifetime of the process;
// once construction fails with every strategy the failure is cached too.
type Manager struct {
	mu         sync.Mutex
	strategies []Strategy
	handle     Generator
	strategy   string
	err        error
	done       bool
}

// NewManager returns a manager over the given construction strategies.
func NewManager(strategies []Strategy) *Manager {
	return &Manager{strategies: strategies}
}

// Get returns the cached backend handle, constructing it on first call.
// Strategies are tried in order and the first one that resolves wins.
// Get is safe for concurrent use: construction happens exactly once.
func (m *Manager) Get(ctx context.Context) (Generator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return m.handle, m.err
	}
	var errs []error
	for _, s := range m.strategies {
		handle, err := s.New(ctx)
		if err != nil {
			log.Printf("pipeline: strategy %q unavailable: %v\n", s.Name, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		m.handle = handle
		m.strategy = s.Name
		m.done = true
		log.Printf("pipeline: using %q backend\n", s.Name)
		return m.handle, nil
	}
	m.err = fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
	m.done = true
	return nil, m.err
}

// Strategy returns the name of the strategy that built the handle, empty
// until the first successful Get.
func (m *Manager) Strategy() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy
}

// Err returns the cached construction failure, if any. A non-nil value
// means the worker is unusable.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Reseed resets the shared random source. The worker calls it before
// every invocation that carries a seed so that backends drawing sampling
// noise in process reproduce their output.
func Reseed(seed int64) {
	rngMu.Lock()
	defer rngMu.Unlock()
	rng = rand.New(rand.NewSource(seed))
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	rngMu.Lock()
	defer rngMu.Unlock()
	return time.Duration(rng.Int63n(int64(d)))
}
