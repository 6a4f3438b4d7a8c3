package chart

import (
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"

	"github.com/KaramelBytes/moodfolio/internal/analysis"
	"github.com/KaramelBytes/moodfolio/internal/logger"
	"github.com/KaramelBytes/moodfolio/internal/utils"
)

var (
	gray       = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	lightCoral = color.RGBA{R: 240, G: 128, B: 128, A: 255}
	firebrick  = color.RGBA{R: 178, G: 34, B: 34, A: 255}
	red        = color.RGBA{R: 255, A: 255}
	lightBlue  = color.RGBA{R: 173, G: 216, B: 230, A: 255}
	royalBlue  = color.RGBA{R: 65, G: 105, B: 225, A: 255}
	blue       = color.RGBA{B: 255, A: 255}
)

// palette returns the bar colour for an offset.
func palette(dir analysis.Direction, offset int) color.Color {
	light, strong, strongest := lightCoral, firebrick, red
	if dir == analysis.Up {
		light, strong, strongest = lightBlue, royalBlue, blue
	}
	switch offset {
	case 0:
		return strong
	case 1:
		return strongest
	default:
		return light
	}
}

func eventLabel(o analysis.OffsetAverage) string {
	if o.Offset == 0 {
		return "D-Day"
	}
	return o.Label()
}

// EventChart draws the baseline next to each offset average. Offsets without
// any observation are drawn empty and labelled n/a.
func EventChart(res *analysis.EventResult, path string, opt Options) error {
	opt = opt.withDefaults(8*vg.Inch, 5*vg.Inch)

	p := plot.New()
	dir := "<="
	if res.Spec.Direction == analysis.Up {
		dir = ">="
	}
	p.Title.Text = fmt.Sprintf("Messages around days with return %s %+.0f%% (%d events)", dir, res.Spec.Threshold*100, res.Count)
	p.Y.Label.Text = "Average messages"
	p.Add(plotter.NewGrid())

	names := []string{"Baseline"}
	values := []float64{res.Baseline}
	colors := []color.Color{gray}
	labels := []string{fmt.Sprintf("%.2f", res.Baseline)}
	for _, o := range res.Offsets {
		names = append(names, eventLabel(o))
		colors = append(colors, palette(res.Spec.Direction, o.Offset))
		values = append(values, o.Mean.Or(0))
		if o.Mean.OK {
			labels = append(labels, fmt.Sprintf("%.2f", o.Mean.V))
		} else {
			labels = append(labels, "n/a")
		}
	}

	top := 0.0
	for i, v := range values {
		b, err := plotter.NewBarChart(plotter.Values{v}, vg.Points(40))
		if err != nil {
			return fmt.Errorf("event chart: %w", err)
		}
		b.XMin = float64(i)
		b.Color = colors[i]
		b.LineStyle.Width = 0
		p.Add(b)
		top = max(top, v)
	}

	xys := make(plotter.XYs, len(values))
	for i, v := range values {
		xys[i] = plotter.XY{X: float64(i), Y: v}
	}
	lbl, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return fmt.Errorf("event chart: %w", err)
	}
	for i := range lbl.TextStyle {
		lbl.TextStyle[i].XAlign = text.XCenter
	}
	lbl.Offset.Y = vg.Points(4)
	p.Add(lbl)

	base := plotter.NewFunction(func(float64) float64 { return res.Baseline })
	base.Color = color.Black
	base.Dashes = dashes
	p.Add(base)

	p.NominalX(names...)
	p.X.Min, p.X.Max = -0.6, float64(len(values))-0.4
	p.Y.Min = 0
	p.Y.Max = max(top*1.2, 1)

	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("event chart: %w", err)
	}
	if err := p.Save(opt.Width, opt.Height, path); err != nil {
		return fmt.Errorf("event chart: %w", err)
	}
	logger.WithComponent(opt.Logger, "chart").WithFields(logrus.Fields{
		"path":   path,
		"event":  res.Spec.Name,
		"events": res.Count,
	}).Info("event chart written")
	return nil
}
