package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KaramelBytes/moodfolio/internal/analysis"
	"github.com/KaramelBytes/moodfolio/internal/chart"
	"github.com/KaramelBytes/moodfolio/internal/config"
	"github.com/KaramelBytes/moodfolio/internal/dataset"
	"github.com/KaramelBytes/moodfolio/internal/holdings"
	"github.com/KaramelBytes/moodfolio/internal/logger"
	"github.com/KaramelBytes/moodfolio/internal/market"
	"github.com/KaramelBytes/moodfolio/internal/messages"
	"github.com/KaramelBytes/moodfolio/internal/report"
	"github.com/KaramelBytes/moodfolio/internal/tabular"
	"github.com/KaramelBytes/moodfolio/internal/utils"
	"github.com/KaramelBytes/moodfolio/internal/valuation"
)

// Stage names in run order.
const (
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageValuate   = "valuate"
	StageMerge     = "merge"
	StageVisualize = "visualize"
	StageAnalyze   = "analyze"
)

// Env binds the stage implementations to one configuration.
type Env struct {
	Cfg   *config.Config
	Paths Paths
	// Provider overrides the provider built from Cfg.Market.
	Provider market.Provider
	Logger   logrus.FieldLogger
	// Out receives the user-facing progress lines; nil discards them.
	Out io.Writer
}

// NewEnv resolves artifact paths for cfg.
func NewEnv(cfg *config.Config, log logrus.FieldLogger, out io.Writer) *Env {
	return &Env{Cfg: cfg, Paths: NewPaths(cfg.DataDir, cfg.Outputs), Logger: log, Out: out}
}

// Stages returns the six stages in dependency order.
func (e *Env) Stages() []Stage {
	return []Stage{
		{Name: StageExtract, Run: e.Extract},
		{Name: StageNormalize, Run: e.Normalize},
		{Name: StageValuate, Run: e.Valuate},
		{Name: StageMerge, Run: e.Merge},
		{Name: StageVisualize, Run: e.Visualize},
		{Name: StageAnalyze, Run: e.Analyze},
	}
}

// Runner returns a runner that writes the manifest next to the artifacts.
func (e *Env) Runner() *Runner {
	return &Runner{
		Logger:       e.Logger,
		ManifestPath: e.Paths.Manifest,
		Artifacts:    e.Paths.Artifacts(e.Cfg.Analysis.Events, e.parquet(), e.Cfg.Outputs.PDF),
	}
}

func (e *Env) parquet() bool { return e.Cfg.Outputs.FinalFormat == "parquet" }

func (e *Env) log(component string) *logrus.Entry { return logger.WithComponent(e.Logger, component) }

func (e *Env) wrote(path string) {
	if e.Out != nil {
		fmt.Fprintf(e.Out, "✓ Wrote %s\n", path)
	}
}

// Extract counts the configured sender's relevant messages per day.
func (e *Env) Extract(context.Context) error {
	if err := e.Cfg.ValidateExtract(); err != nil {
		return err
	}
	mc := e.Cfg.Messages
	recs, files, err := messages.LoadDir(mc.Dir, mc.Pattern)
	if err != nil {
		return err
	}
	ex := &messages.Extractor{
		Sender:  mc.Sender,
		Matcher: messages.NewMatcher(mc.Keywords),
		Offset:  time.Duration(mc.UTCOffsetHours) * time.Hour,
	}
	counts, st := ex.Extract(recs)
	e.log(StageExtract).WithFields(logrus.Fields{
		"files":        files,
		"messages":     st.Messages,
		"from_sender":  st.FromSender,
		"relevant":     st.Relevant,
		"without_time": st.WithoutTime,
		"days":         st.DistinctDates,
	}).Info("messages counted")
	if err := messages.WriteDailyCounts(e.Paths.MessageCounts, counts); err != nil {
		return err
	}
	e.wrote(e.Paths.MessageCounts)
	return nil
}

func (e *Env) policy() (holdings.MissingQuantityPolicy, error) {
	return holdings.ParsePolicy(e.Cfg.Holdings.MissingQuantity)
}

// Normalize cleans the raw ledger.
func (e *Env) Normalize(context.Context) error {
	hc := e.Cfg.Holdings
	policy, err := e.policy()
	if err != nil {
		return err
	}
	var delim rune
	if r := []rune(hc.Delimiter); len(r) == 1 {
		delim = r[0]
	}
	l, err := holdings.Load(hc.Ledger, holdings.LoadOptions{
		DateLayout: hc.DateLayout,
		Policy:     policy,
		Table:      tabular.Options{Delimiter: delim, SheetName: hc.Sheet, SheetIndex: hc.SheetIndex},
	})
	if err != nil {
		return err
	}
	e.log(StageNormalize).WithFields(logrus.Fields{
		"rows":    l.Len(),
		"tickers": len(l.Tickers),
		"policy":  policy.String(),
	}).Info("ledger normalized")
	if err := holdings.WriteCleaned(e.Paths.CleanedLedger, l); err != nil {
		return err
	}
	e.wrote(e.Paths.CleanedLedger)
	return nil
}

// NewProvider builds the configured price provider.
func NewProvider(mc config.Market, log logrus.FieldLogger) (market.Provider, error) {
	opt := market.HTTPOptions{
		Timeout:      time.Duration(mc.HTTPTimeoutSec) * time.Second,
		RetryMax:     mc.RetryMaxAttempts,
		RetryBase:    time.Duration(mc.RetryBaseDelayMs) * time.Millisecond,
		RetryMaxWait: time.Duration(mc.RetryMaxDelayMs) * time.Millisecond,
		RateLimit:    mc.RateLimit,
		UserAgent:    mc.UserAgent,
		Logger:       log,
	}
	switch mc.Provider {
	case "", "yahoo":
		c := market.NewYahooClient(mc.YahooBaseURL, opt)
		c.Adjusted = !mc.Unadjusted
		return c, nil
	case "eodhd":
		if mc.EODHDAPIKey == "" {
			return nil, fmt.Errorf("eodhd provider: market.eodhd_api_key is empty")
		}
		return market.NewEODHDClient(mc.EODHDBaseURL, mc.EODHDAPIKey, mc.EODHDExchange, opt), nil
	case "csv":
		if mc.PricesCSV == "" {
			return nil, fmt.Errorf("csv provider: market.prices_csv is empty")
		}
		return market.NewCSVProvider(mc.PricesCSV), nil
	}
	return nil, fmt.Errorf("unknown market provider %q", mc.Provider)
}

// Valuate prices the cleaned ledger and computes daily returns.
func (e *Env) Valuate(ctx context.Context) error {
	l, err := holdings.ReadCleaned(e.Paths.CleanedLedger)
	if err != nil {
		return err
	}
	policy, err := e.policy()
	if err != nil {
		return err
	}
	mc := e.Cfg.Market
	provider := e.Provider
	if provider == nil {
		if provider, err = NewProvider(mc, e.Logger); err != nil {
			return err
		}
	}
	eng := &valuation.Engine{
		Fetcher: &market.Fetcher{Provider: provider, Workers: mc.Workers, Aliases: mc.AliasMap(), Logger: e.Logger},
		PadDays: mc.PadDays,
		Policy:  policy,
		Logger:  e.Logger,
	}
	v, err := eng.Run(ctx, l)
	if err != nil {
		return err
	}
	diags := valuation.Diagnostics(v, 0)
	if len(v.Failed) > 0 {
		e.log(StageValuate).WithField("tickers", len(v.Failed)).Warn("some tickers have no prices; see diagnostics")
	}
	if err := valuation.WriteCSV(e.Paths.Valuation, v); err != nil {
		return err
	}
	e.wrote(e.Paths.Valuation)
	if err := valuation.WriteDiagnostics(e.Paths.Diagnostics, diags); err != nil {
		return err
	}
	e.wrote(e.Paths.Diagnostics)
	return nil
}

// Merge joins valuation and message counts into the final table.
func (e *Env) Merge(context.Context) error {
	v, err := valuation.ReadCSV(e.Paths.Valuation)
	if err != nil {
		return err
	}
	counts, err := messages.ReadDailyCounts(e.Paths.MessageCounts)
	if err != nil {
		return err
	}
	rows := dataset.Merge(v, counts)
	e.log(StageMerge).WithFields(logrus.Fields{"rows": len(rows), "count_days": len(counts)}).Info("final table merged")
	if err := dataset.WriteCSV(e.Paths.Final, rows); err != nil {
		return err
	}
	e.wrote(e.Paths.Final)
	if e.parquet() {
		if err := dataset.WriteParquet(e.Paths.FinalParquet, rows); err != nil {
			return err
		}
		e.wrote(e.Paths.FinalParquet)
	}
	return nil
}

// Visualize renders the trend chart.
func (e *Env) Visualize(context.Context) error {
	rows, err := dataset.ReadCSV(e.Paths.Final)
	if err != nil {
		return err
	}
	if err := chart.TrendChart(rows, e.Paths.Trend, chart.Options{Logger: e.Logger}); err != nil {
		return err
	}
	e.wrote(e.Paths.Trend)
	return nil
}

// Analyze runs the correlation and event studies, draws one chart per event
// and writes the Markdown report (and PDF when enabled).
func (e *Env) Analyze(context.Context) error {
	rows, err := dataset.ReadCSV(e.Paths.Final)
	if err != nil {
		return err
	}
	ac := e.Cfg.Analysis
	rep := analysis.Analyze(rows, analysis.Options{Events: ac.Events, Alpha: ac.Alpha, SpikeThreshold: ac.SpikeThreshold})
	log := e.log(StageAnalyze)
	if rep.PearsonErr != nil {
		log.WithError(rep.PearsonErr).Warn("correlation undefined")
	} else {
		log.WithFields(logrus.Fields{
			"pearson":    rep.Pearson.Coef,
			"pearson_p":  rep.Pearson.PValue,
			"spearman":   rep.Spearman.Coef,
			"spearman_p": rep.Spearman.PValue,
			"n":          rep.Pearson.N,
		}).Info("correlation computed")
	}

	images := []string{e.Paths.Trend}
	for _, res := range rep.Events {
		path := e.Paths.Event(res.Spec)
		if err := chart.EventChart(res, path, chart.Options{Logger: e.Logger}); err != nil {
			return err
		}
		e.wrote(path)
		images = append(images, path)
	}

	md := rep.Markdown()
	if err := utils.SafeWriteFile(e.Paths.Report, []byte(md)); err != nil {
		return err
	}
	e.wrote(e.Paths.Report)
	if !e.Cfg.Outputs.PDF {
		return nil
	}
	if err := report.RenderFile(md, existing(images), e.Paths.ReportPDF, e.Logger); err != nil {
		return err
	}
	e.wrote(e.Paths.ReportPDF)
	return nil
}

func existing(paths []string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}
