package analyze

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/musegen/musegen/pkg/filestore"
	"github.com/musegen/musegen/pkg/sound"
)

type Config struct {
	Debug  bool
	Input  string
	Output string
	FSType string
	FSConn string
	ID     string
}

func Run(ctx context.Context, cfg *Config) error {
	a, err := sound.NewAnalyzer(cfg.Input)
	if err != nil {
		return err
	}
	fmt.Printf("Duration: %s, rate: %d Hz, channels: %d\n", a.Duration(), a.Rate(), a.Channels())
	fmt.Printf("Peak: %.3f\n", a.Peak())

	for _, s := range a.Silences() {
		fmt.Printf("Silence: duration: %s, position %s\n", s.Duration, s.Start)
	}
	fmt.Printf("End silence: %s\n", a.EndSilence())

	if cfg.Output == "" {
		return nil
	}
	name := filepath.Base(cfg.Input)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	out := filepath.Join(cfg.Output, name)

	if err := a.PlotRMS(out + "-rms.png"); err != nil {
		return err
	}
	if err := a.PlotWave(out + "-wave.png"); err != nil {
		return err
	}

	if cfg.FSType == "" {
		return nil
	}
	fs, err := filestore.New(cfg.FSType, cfg.FSConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("analyze: couldn't create file storage: %w", err)
	}
	id := cfg.ID
	if id == "" {
		id = name
	}
	if err := fs.SetPNG(ctx, out+"-rms.png", id+"-rms"); err != nil {
		return fmt.Errorf("analyze: couldn't upload rms plot: %w", err)
	}
	if err := fs.SetPNG(ctx, out+"-wave.png", id+"-wave"); err != nil {
		return fmt.Errorf("analyze: couldn't upload wave plot: %w", err)
	}
	return nil
}
