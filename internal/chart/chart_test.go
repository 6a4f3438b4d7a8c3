package chart

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/moodfolio/internal/analysis"
	"github.com/KaramelBytes/moodfolio/internal/dataset"
	"github.com/KaramelBytes/moodfolio/internal/series"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func sampleRows() []dataset.Row {
	s, n := series.Some, series.None()
	ret := []series.Float{n, n, s(0.02), s(-0.12), s(0.01), n, s(0.15), s(-0.03)}
	lag := series.Lag(ret, 1)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]dataset.Row, len(ret))
	for i := range ret {
		rows[i] = dataset.Row{Date: series.AddDays(start, i), PortfolioValue: 100, DailyReturn: ret[i], DailyReturnLag1: lag[i], MessageCount: i % 3}
	}
	return rows
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(b), len(pngMagic))
	assert.True(t, bytes.HasPrefix(b, pngMagic), "not a PNG: %s", path)
}

func TestTrendChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts", "trend_visualization.png")
	require.NoError(t, TrendChart(sampleRows(), path, Options{}))
	assertPNG(t, path)
}

func TestTrendChartNoRows(t *testing.T) {
	assert.Error(t, TrendChart(nil, filepath.Join(t.TempDir(), "x.png"), Options{}))
}

func TestEventCharts(t *testing.T) {
	pts := analysis.Clean(sampleRows())
	dir := t.TempDir()
	for _, ev := range analysis.DefaultEvents() {
		res := analysis.EventWindow(pts, ev)
		path := filepath.Join(dir, ev.ChartFile())
		require.NoError(t, EventChart(res, path, Options{}))
		assertPNG(t, path)
	}
}

func TestEventChartWithoutEvents(t *testing.T) {
	res := analysis.EventWindow(analysis.Clean(sampleRows()), analysis.EventSpec{Name: "crash", Threshold: -0.9, Direction: analysis.Down})
	path := filepath.Join(t.TempDir(), res.Spec.ChartFile())
	require.NoError(t, EventChart(res, path, Options{}))
	assertPNG(t, path)
}

func TestSegmentsSplitOnUndefined(t *testing.T) {
	segs := segments(sampleRows())
	require.Len(t, segs, 2)
	assert.Len(t, segs[0], 3)
	assert.Equal(t, 3.0, segs[0][0].X)
	assert.Len(t, segs[1], 1)
}

func TestPalette(t *testing.T) {
	assert.Equal(t, red, palette(analysis.Down, 1))
	assert.Equal(t, royalBlue, palette(analysis.Up, 0))
	assert.Equal(t, lightBlue, palette(analysis.Up, -1))
}
