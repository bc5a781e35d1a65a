package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
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

	Addr        string
	Credentials map[string]string

	ServiceURL      string
	Bin             string
	Wait            time.Duration
	DefaultDuration int
}

// Run starts the generation service.
func Run(ctx context.Context, cfg *Config) error {
	log.Println("serve: server started")
	defer log.Println("serve: server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var store *storage.Store
	if cfg.DBType != "" {
		var err error
		store, err = storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
		if err != nil {
			return fmt.Errorf("serve: couldn't create orm store: %w", err)
		}
		if err := store.Start(ctx); err != nil {
			return fmt.Errorf("serve: couldn't start orm store: %w", err)
		}
	}

	var fs *filestore.Store
	if cfg.FSType != "" {
		var err error
		fs, err = filestore.New(cfg.FSType, cfg.FSConn, cfg.Debug)
		if err != nil {
			return fmt.Errorf("serve: couldn't create file storage: %w", err)
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

	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.Timeout(15 * time.Minute))
	if len(cfg.Credentials) > 0 {
		mux.Use(middleware.BasicAuth("private", cfg.Credentials))
	}
	if cfg.Debug {
		mux.Use(middleware.Logger)
	}
	cache := ".cache"
	if cfg.FSType == "local" {
		cache = cfg.FSConn
	}
	mux.Mount("/", NewHandler(wrk, store, fs, cache))

	split := strings.Split(cfg.Addr, ":")
	if len(split) != 2 {
		return fmt.Errorf("serve: invalid address: %s", cfg.Addr)
	}
	host := split[0]
	port, err := strconv.Atoi(split[1])
	if err != nil {
		return fmt.Errorf("serve: invalid port: %s", split[1])
	}
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		note := fmt.Sprintf("http://%s:%d", host, port)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%d", port)
		}
		log.Printf("Starting server on %s", note)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v\n", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// envelope is the dispatch wrapper used by serverless runtimes. Bare job
// requests are accepted too.
type envelope struct {
	ID    string       `json:"id,omitempty"`
	Input *job.Request `json:"input,omitempty"`
}

// NewHandler returns the job endpoints for the given worker. The store
// and file storage are optional; without them the generation endpoints
// are not registered. Downloaded artifacts are kept in the cache folder.
func NewHandler(wrk *worker.Worker, store *storage.Store, fs *filestore.Store, cache string) http.Handler {
	r := chi.NewRouter()

	r.Post("/run", func(w http.ResponseWriter, req *http.Request) {
		if err := wrk.Err(); err != nil {
			http.Error(w, fmt.Sprintf("worker unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("couldn't read request: %v", err), http.StatusBadRequest)
			return
		}
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			http.Error(w, fmt.Sprintf("couldn't decode request: %v", err), http.StatusBadRequest)
			return
		}
		in := env.Input
		if in == nil {
			// Bare job request without the dispatch wrapper.
			in = &job.Request{}
			if err := json.Unmarshal(body, in); err != nil {
				http.Error(w, fmt.Sprintf("couldn't decode request: %v", err), http.StatusBadRequest)
				return
			}
		}
		resp, err := wrk.Handle(req.Context(), in)
		if err != nil {
			http.Error(w, fmt.Sprintf("couldn't handle job: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Println("serve: couldn't encode response:", err)
		}
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := wrk.Err(); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if store != nil {
		r.Get("/generations", func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			page, err := strconv.Atoi(req.URL.Query().Get("page"))
			if err != nil {
				page = 1
			}
			size, err := strconv.Atoi(req.URL.Query().Get("size"))
			if err != nil {
				size = 100
			}
			var filters []storage.Filter
			if v := req.URL.Query().Get("done"); v != "" {
				filters = append(filters, storage.Where("done = ?", v == "true"))
			}
			generations, err := store.ListGenerations(ctx, page, size, "id desc", filters...)
			if err != nil {
				log.Println("couldn't list generations:", err)
				http.Error(w, fmt.Sprintf("couldn't list generations: %v", err), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(generations); err != nil {
				log.Println("couldn't encode generations:", err)
			}
		})
		r.Get("/generations/{id}", func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			id := chi.URLParam(req, "id")
			generation, err := store.GetGeneration(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, fmt.Sprintf("couldn't find generation %s", id), http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, fmt.Sprintf("couldn't get generation: %v", err), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(generation); err != nil {
				log.Println("couldn't encode generation:", err)
			}
		})
		r.Delete("/generations/{id}", func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			id := chi.URLParam(req, "id")
			if err := store.DeleteGeneration(ctx, id); err != nil {
				http.Error(w, fmt.Sprintf("couldn't delete generation: %v", err), http.StatusInternalServerError)
				return
			}
		})
	}

	if fs != nil {
		r.Get("/generations/{id}/audio", serveArtifact(fs, cache, filestore.WAV, fs.GetWAV))
		r.Get("/generations/{id}/plot", serveArtifact(fs, cache, filestore.PNG, fs.GetPNG))
	}

	return r
}

// serveArtifact serves a stored artifact: a redirect to a shareable
// link when the store produces one, otherwise the file itself through
// the cache folder.
func serveArtifact(fs *filestore.Store, cache string, name func(string) string, get func(ctx context.Context, path, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		id := chi.URLParam(req, "id")
		u, ok, err := fs.URL(ctx, name(id))
		if err != nil {
			http.Error(w, fmt.Sprintf("couldn't link artifact: %v", err), http.StatusInternalServerError)
			return
		}
		if ok {
			http.Redirect(w, req, u, http.StatusTemporaryRedirect)
			return
		}
		out := filepath.Join(cache, name(id))
		if _, err := os.Stat(out); err != nil {
			if err := os.MkdirAll(cache, 0755); err != nil {
				http.Error(w, fmt.Sprintf("couldn't create cache folder: %v", err), http.StatusInternalServerError)
				return
			}
			if err := get(ctx, out, id); err != nil {
				http.Error(w, fmt.Sprintf("couldn't download artifact: %v", err), http.StatusNotFound)
				return
			}
		}
		http.ServeFile(w, req, out)
	}
}
