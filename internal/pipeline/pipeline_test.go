package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/moodfolio/internal/analysis"
	"github.com/KaramelBytes/moodfolio/internal/config"
	"github.com/KaramelBytes/moodfolio/internal/dataset"
)

func TestRunnerStopsAtFirstFailure(t *testing.T) {
	var ran []string
	step := func(name string, err error) Stage {
		return Stage{Name: name, Run: func(context.Context) error {
			ran = append(ran, name)
			return err
		}}
	}
	boom := errors.New("boom")
	manifest := filepath.Join(t.TempDir(), "run_manifest.json")
	r := &Runner{ManifestPath: manifest, Artifacts: []string{"a.csv"}}

	m, err := r.Run(context.Background(), []Stage{step("one", nil), step("two", boom), step("three", nil)})
	require.Error(t, err)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "two", se.Stage)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"one", "two"}, ran)

	assert.Equal(t, "failed", m.Status)
	require.Len(t, m.Stages, 3)
	assert.Equal(t, "ok", m.Stages[0].Status)
	assert.Equal(t, "failed", m.Stages[1].Status)
	assert.Equal(t, "boom", m.Stages[1].Error)
	assert.Equal(t, "skipped", m.Stages[2].Status)
	assert.Empty(t, m.Artifacts)

	raw, err := os.ReadFile(manifest)
	require.NoError(t, err)
	var back Manifest
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, m.RunID, back.RunID)
	assert.Len(t, back.RunID, 36)
}

func TestRunnerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := (&Runner{}).Run(ctx, []Stage{{Name: "x", Run: func(context.Context) error { called = true; return nil }}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestPaths(t *testing.T) {
	p := NewPaths("data", config.Outputs{Final: "final_analysis_data.csv", Report: "analysis_report.md", Trend: "trend.png"})
	assert.Equal(t, filepath.Join("data", "final_analysis_data.parquet"), p.FinalParquet)
	assert.Equal(t, filepath.Join("data", "analysis_report.pdf"), p.ReportPDF)
	assert.Equal(t, filepath.Join("data", "event_down_10.png"), p.Event(analysis.DefaultEvents()[0]))

	arts := p.Artifacts(analysis.DefaultEvents(), true, false)
	assert.Contains(t, arts, p.FinalParquet)
	assert.NotContains(t, arts, p.ReportPDF)
}

// fixture lays out a complete offline input set and returns its config.
func fixture(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox", "thread_1")
	require.NoError(t, os.MkdirAll(inbox, 0o755))

	at := func(day string, hour int) int64 {
		d, err := time.Parse("2006-01-02", day)
		require.NoError(t, err)
		return d.Add(time.Duration(hour) * time.Hour).UnixMilli()
	}
	export := map[string]any{"messages": []map[string]any{
		{"sender_name": "Kim", "timestamp_ms": at("2024-01-03", 10), "content": "NMIXX comeback"},
		{"sender_name": "Kim", "timestamp_ms": at("2024-01-03", 12), "content": "haewon live"},
		{"sender_name": "Kim", "timestamp_ms": at("2024-01-05", 9), "content": "lunch?"},
		{"sender_name": "Lee", "timestamp_ms": at("2024-01-05", 9), "content": "nmixx"},
		{"sender_name": "Kim", "timestamp_ms": at("2024-01-08", 9), "content": "", "share": map[string]any{"share_text": "clip", "original_content_owner": "nmixx_official"}},
	}}
	b, err := json.Marshal(export)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "message_1.json"), b, 0o644))

	ledger := filepath.Join(root, "stock.csv")
	require.NoError(t, os.WriteFile(ledger, []byte("DATE,AAPL,MSFT\n"+
		"2024.01.02,10,\n"+
		"2024.01.03,10,5\n"+
		"2024.01.04,10,5\n"+
		"2024.01.05,10,5\n"+
		"2024.01.06,10,5\n"+
		"2024.01.07,10,5\n"+
		"2024.01.08,20,5\n"), 0o644))

	var prices strings.Builder
	prices.WriteString("DATE,TICKER,CLOSE\n")
	closes := map[string][]float64{
		"AAPL": {140, 150, 155, 140, 150, 150, 150, 160},
		"MSFT": {300, 300, 300, 300, 300, 300, 300, 300},
	}
	days := []string{"2023-12-29", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-06", "2024-01-07", "2024-01-08"}
	for tk, cs := range closes {
		for i, c := range cs {
			prices.WriteString(days[i] + "," + tk + "," + strconv.FormatFloat(c, 'f', -1, 64) + "\n")
		}
	}
	priceFile := filepath.Join(root, "prices.csv")
	require.NoError(t, os.WriteFile(priceFile, []byte(prices.String()), 0o644))

	t.Setenv("HOME", root)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DataDir = filepath.Join(root, "data")
	cfg.Messages.Dir = filepath.Join(root, "inbox")
	cfg.Messages.Sender = "Kim"
	cfg.Messages.Keywords = []string{"nmixx", "Haewon"}
	cfg.Holdings.Ledger = ledger
	cfg.Market.Provider = "csv"
	cfg.Market.PricesCSV = priceFile
	cfg.Outputs.FinalFormat = "parquet"
	cfg.Outputs.PDF = true
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestFullRunOffline(t *testing.T) {
	cfg := fixture(t)
	var out bytes.Buffer
	env := NewEnv(cfg, nil, &out)

	m, err := env.Runner().Run(context.Background(), env.Stages())
	require.NoError(t, err)
	assert.Equal(t, "ok", m.Status)
	require.Len(t, m.Stages, 6)
	for _, st := range m.Stages {
		assert.Equal(t, "ok", st.Status, st.Name)
	}
	for _, a := range m.Artifacts {
		assert.FileExists(t, a)
	}
	assert.FileExists(t, env.Paths.Manifest)
	assert.Contains(t, out.String(), "✓ Wrote "+env.Paths.Final)

	counts, err := os.ReadFile(env.Paths.MessageCounts)
	require.NoError(t, err)
	assert.Equal(t, "DATE,message_count\n2024-01-03,2\n2024-01-08,1\n", string(counts))

	rows, err := dataset.ReadCSV(env.Paths.Final)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "2023-12-26", rows[0].Date.Format("2006-01-02"))

	byDay := map[string]dataset.Row{}
	for _, r := range rows {
		byDay[r.Date.Format("2006-01-02")] = r
	}
	// 01-03: AAPL 10*155 + MSFT held 0 the day before, over 10*150.
	require.True(t, byDay["2024-01-03"].DailyReturn.OK)
	assert.InDelta(t, 1550.0/1500.0-1, byDay["2024-01-03"].DailyReturn.V, 1e-12)
	assert.Equal(t, 2, byDay["2024-01-03"].MessageCount)
	// The 01-08 purchase of ten more AAPL does not move that day's return.
	assert.InDelta(t, (10*160.0+5*300)/(10*150.0+5*300)-1, byDay["2024-01-08"].DailyReturn.V, 1e-12)

	md, err := os.ReadFile(env.Paths.Report)
	require.NoError(t, err)
	assert.Contains(t, string(md), "## Event down_10")
}

func TestRunAbortsOnMissingLedger(t *testing.T) {
	cfg := fixture(t)
	cfg.Holdings.Ledger = filepath.Join(t.TempDir(), "absent.xlsx")
	env := NewEnv(cfg, nil, nil)

	m, err := env.Runner().Run(context.Background(), env.Stages())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageNormalize, se.Stage)
	assert.Equal(t, "skipped", m.Stages[2].Status)
	assert.NoFileExists(t, env.Paths.Valuation)
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(config.Market{Provider: "eodhd"}, nil)
	assert.Error(t, err)
	_, err = NewProvider(config.Market{Provider: "nope"}, nil)
	assert.Error(t, err)
	p, err := NewProvider(config.Market{Provider: "yahoo"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
}
