package sound

import (
	"fmt"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotWave writes a min/max waveform plot to a PNG file.
func (a *Analyzer) PlotWave(path string) error {
	window := 50 * time.Millisecond
	resampled := a.Resample(window)
	return createPlot(path, "wave", resampled, -1, 1, window.Seconds())
}

// PlotRMS writes an RMS level plot to a PNG file.
func (a *Analyzer) PlotRMS(path string) error {
	window := 50 * time.Millisecond
	rms := a.RMS(window)
	return createPlot(path, "rms", rms, 0, 1, window.Seconds())
}

func createPlot(path, name string, data []float64, min, max float64, window float64) error {
	p := plot.New()

	p.Y.Min = min
	p.Y.Max = max

	d := time.Duration(float64(len(data))*window*0.5) * time.Second
	p.Title.Text = fmt.Sprintf("%s %s", name, d)
	p.X.Label.Text = "time"
	p.Y.Label.Text = "level"

	l, err := plotter.NewLine(makePoints(data, window))
	if err != nil {
		return fmt.Errorf("sound: couldn't create line plotter: %w", err)
	}
	l.LineStyle.Width = vg.Points(1)
	p.Add(l)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("sound: couldn't save plot: %w", err)
	}
	return nil
}

func makePoints(samples []float64, window float64) plotter.XYs {
	pts := make(plotter.XYs, len(samples))
	for i, v := range samples {
		pts[i].X = float64(i) * window
		pts[i].Y = v
	}
	return pts
}
