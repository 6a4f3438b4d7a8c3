// Package chart renders the trend and event-window PNG charts.
package chart

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/KaramelBytes/moodfolio/internal/dataset"
	"github.com/KaramelBytes/moodfolio/internal/logger"
	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/utils"
)

// Options sizes the rendered images.
type Options struct {
	Width  vg.Length
	Height vg.Length
	Logger logrus.FieldLogger
}

func (o Options) withDefaults(w, h vg.Length) Options {
	if o.Width <= 0 {
		o.Width = w
	}
	if o.Height <= 0 {
		o.Height = h
	}
	return o
}

var (
	returnColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	countColor  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	dashes      = []vg.Length{vg.Points(5), vg.Points(3)}
)

// TrendChart draws the lagged return (upper panel) above the daily message
// count (lower panel). Both panels share the row index as x axis.
func TrendChart(rows []dataset.Row, path string, opt Options) error {
	if len(rows) == 0 {
		return fmt.Errorf("trend chart: no rows")
	}
	opt = opt.withDefaults(12*vg.Inch, 8*vg.Inch)
	n := len(rows)
	ticker := dayTicker{dates: make([]time.Time, n)}
	for i, r := range rows {
		ticker.dates[i] = r.Date
	}
	xmin, xmax := -0.5, float64(n)-0.5

	top := plot.New()
	top.Title.Text = "Daily return (lag 1) vs. message count"
	top.Y.Label.Text = "Return (t-1)"
	top.Add(plotter.NewGrid())
	for _, seg := range segments(rows) {
		l, err := plotter.NewLine(seg)
		if err != nil {
			return fmt.Errorf("trend chart: %w", err)
		}
		l.Color = returnColor
		l.Width = vg.Points(1.2)
		top.Add(l)
	}
	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	zero.Color = color.Gray{Y: 128}
	zero.Dashes = dashes
	top.Add(zero)

	counts := make(plotter.Values, n)
	for i, r := range rows {
		counts[i] = float64(r.MessageCount)
	}
	bottom := plot.New()
	bottom.X.Label.Text = "Date"
	bottom.Y.Label.Text = "Messages"
	bottom.Add(plotter.NewGrid())
	bars, err := plotter.NewBarChart(counts, barWidth(opt.Width, n))
	if err != nil {
		return fmt.Errorf("trend chart: %w", err)
	}
	bars.Color = countColor
	bars.LineStyle.Width = 0
	bottom.Add(bars)

	for _, p := range []*plot.Plot{top, bottom} {
		p.X.Min, p.X.Max = xmin, xmax
	}
	bottom.X.Tick.Marker = ticker
	ticker.unlabeled = true
	top.X.Tick.Marker = ticker

	img := vgimg.New(opt.Width, opt.Height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 2, Cols: 1,
		PadTop: vg.Points(10), PadBottom: vg.Points(10),
		PadLeft: vg.Points(10), PadRight: vg.Points(20),
		PadY: vg.Points(8),
	}
	canvases := plot.Align([][]*plot.Plot{{top}, {bottom}}, tiles, dc)
	top.Draw(canvases[0][0])
	bottom.Draw(canvases[1][0])

	if err := writePNG(path, img); err != nil {
		return fmt.Errorf("trend chart: %w", err)
	}
	logger.WithComponent(opt.Logger, "chart").WithFields(logrus.Fields{"path": path, "rows": n}).Info("trend chart written")
	return nil
}

// segments splits the lagged return into runs of defined values so gaps
// stay visible.
func segments(rows []dataset.Row) []plotter.XYs {
	var out []plotter.XYs
	var cur plotter.XYs
	for i, r := range rows {
		if !r.DailyReturnLag1.OK {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: float64(i), Y: r.DailyReturnLag1.V})
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func barWidth(width vg.Length, n int) vg.Length {
	w := (width * 0.85) / vg.Length(n)
	return max(w*0.8, vg.Points(0.5))
}

// dayTicker places at most ten ticks on row indices, labelled with the
// row's date unless unlabeled is set.
type dayTicker struct {
	dates     []time.Time
	unlabeled bool
}

func (t dayTicker) Ticks(lo, hi float64) []plot.Tick {
	step := max(len(t.dates)/10, 1)
	var ticks []plot.Tick
	for i := 0; i < len(t.dates); i += step {
		v := float64(i)
		if v < lo || v > hi {
			continue
		}
		tk := plot.Tick{Value: v}
		if !t.unlabeled {
			tk.Label = series.FormatDay(t.dates[i])
		}
		ticks = append(ticks, tk)
	}
	return ticks
}

func writePNG(path string, img *vgimg.Canvas) (err error) {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = vgimg.PngCanvas{Canvas: img}.WriteTo(f)
	return err
}
