package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/musegen/musegen/pkg/job"
	"github.com/musegen/musegen/pkg/openai"
)

type Config struct {
	Debug  bool
	Input  string
	Output string
	Limit  int

	Token string
	Model string

	Duration int
}

const prompt = `Write a song about the following theme: "%s".
Respond with a JSON object with two fields:
 - "tags": a comma separated list of genre and style tags for the song
 - "lyrics": the full lyrics of the song
Respond only with the JSON object, no other text.`

// Run drafts generation jobs from a list of themes using a language
// model.
func Run(ctx context.Context, cfg *Config) error {
	var count int
	log.Println("draft: started")
	defer func() {
		log.Printf("draft: ended (%d)\n", count)
	}()

	debug := func(format string, args ...interface{}) {
		if !cfg.Debug {
			return
		}
		format += "\n"
		log.Printf(format, args...)
	}

	if cfg.Token == "" {
		return fmt.Errorf("draft: openai token is required")
	}

	b, err := os.ReadFile(cfg.Input)
	if err != nil {
		return fmt.Errorf("draft: couldn't read input file: %w", err)
	}
	var themes []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		themes = append(themes, line)
	}
	if len(themes) == 0 {
		return fmt.Errorf("draft: no themes found in %s", cfg.Input)
	}

	ext := filepath.Ext(cfg.Output)
	var marshal func([]*job.Request) ([]byte, error)
	switch ext {
	case ".json":
		marshal = func(rs []*job.Request) ([]byte, error) {
			return json.MarshalIndent(rs, "", "  ")
		}
	case ".csv":
		marshal = func(rs []*job.Request) ([]byte, error) {
			return gocsv.MarshalBytes(rs)
		}
	default:
		return fmt.Errorf("draft: unsupported output format: %s", ext)
	}

	client := openai.New(&openai.Config{
		Debug: cfg.Debug,
		Token: cfg.Token,
		Model: cfg.Model,
	})

	var reqs []*job.Request
	for _, theme := range themes {
		if cfg.Limit > 0 && count >= cfg.Limit {
			break
		}
		debug("draft: theme %q", theme)
		resp, err := client.ChatCompletion(ctx, fmt.Sprintf(prompt, theme))
		if err != nil {
			return fmt.Errorf("draft: couldn't draft theme %q: %w", theme, err)
		}
		var d struct {
			Tags   string `json:"tags"`
			Lyrics string `json:"lyrics"`
		}
		if err := json.Unmarshal([]byte(trimFences(resp)), &d); err != nil {
			return fmt.Errorf("draft: couldn't parse draft for theme %q: %w", theme, err)
		}
		if d.Lyrics == "" {
			return fmt.Errorf("draft: empty lyrics for theme %q", theme)
		}
		reqs = append(reqs, &job.Request{
			Tags:     d.Tags,
			Lyrics:   d.Lyrics,
			Duration: cfg.Duration,
		})
		count++
	}

	out, err := marshal(reqs)
	if err != nil {
		return fmt.Errorf("draft: couldn't marshal jobs: %w", err)
	}
	if err := os.WriteFile(cfg.Output, out, 0644); err != nil {
		return fmt.Errorf("draft: couldn't write output: %w", err)
	}
	return nil
}

// trimFences strips a markdown code fence the model may wrap the JSON
// in.
func trimFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
