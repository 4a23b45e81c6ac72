package output

import (
	"fmt"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var palette = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
	color.RGBA{R: 148, G: 103, B: 189, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
}

func addLine(p *plot.Plot, name string, xs, ys []float64, i int) error {
	pts := make(plotter.XYs, 0, len(xs))
	for j := range xs {
		if math.IsNaN(ys[j]) || math.IsInf(ys[j], 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[j], Y: ys[j]})
	}
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("output: series %s: %w", name, err)
	}
	line.Color = palette[i%len(palette)]
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

// historyPlot renders every series against time
func historyPlot(path string, times []float64, fields []string, series [][]float64) error {
	p := plot.New()
	p.Title.Text = "History"
	p.X.Label.Text = "t"
	p.Legend.Top = true
	for i, name := range fields {
		if err := addLine(p, name, times, series[i], i); err != nil {
			return err
		}
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// ConvergencePlot draws each error series against mesh size h on log-log
// axes with a reference slope of the given order. Non-positive values are
// dropped.
func ConvergencePlot(path string, h []float64, series map[string][]float64, order float64) error {
	p := plot.New()
	p.Title.Text = "Convergence"
	p.X.Label.Text = "h"
	p.Y.Label.Text = "error"
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Legend.Top = true
	p.Legend.Left = true

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)
	var anchor float64
	for i, name := range names {
		ys := series[name]
		if len(ys) != len(h) {
			return fmt.Errorf("output: series %s has %d values for %d mesh sizes", name, len(ys), len(h))
		}
		pos := make([]float64, len(ys))
		for j, y := range ys {
			pos[j] = y
			if y <= 0 || h[j] <= 0 {
				pos[j] = math.NaN()
			} else if anchor == 0 {
				anchor = y / math.Pow(h[j], order)
			}
		}
		if err := addLine(p, name, h, pos, i); err != nil {
			return err
		}
	}
	if anchor == 0 {
		return fmt.Errorf("output: no positive errors to plot in %s", path)
	}
	if order > 0 {
		ref := make([]float64, len(h))
		for j, hj := range h {
			ref[j] = anchor * math.Pow(hj, order)
		}
		if err := addLine(p, fmt.Sprintf("O(h^%g)", order), h, ref, len(names)); err != nil {
			return err
		}
	}
	if err := p.Save(5*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}
