package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/moodfolio/internal/analysis"
	"github.com/KaramelBytes/moodfolio/internal/holdings"
)

// EnvPrefix prefixes every environment override, e.g. MOODFOLIO_MARKET_PROVIDER.
const EnvPrefix = "MOODFOLIO"

// Config is the full pipeline configuration.
type Config struct {
	DataDir   string `mapstructure:"data_dir" yaml:"data_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file,omitempty"`

	Messages Messages `mapstructure:"messages" yaml:"messages"`
	Holdings Holdings `mapstructure:"holdings" yaml:"holdings"`
	Market   Market   `mapstructure:"market" yaml:"market"`
	Analysis Analysis `mapstructure:"analysis" yaml:"analysis"`
	Outputs  Outputs  `mapstructure:"outputs" yaml:"outputs"`
}

// Messages configures the extract stage.
type Messages struct {
	Dir      string   `mapstructure:"dir" yaml:"dir"`
	Pattern  string   `mapstructure:"pattern" yaml:"pattern"`
	Sender   string   `mapstructure:"sender" yaml:"sender"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
	// UTCOffsetHours shifts message timestamps before taking the day.
	UTCOffsetHours int `mapstructure:"utc_offset_hours" yaml:"utc_offset_hours"`
}

// Holdings configures the normalize stage.
type Holdings struct {
	Ledger          string `mapstructure:"ledger" yaml:"ledger"`
	DateLayout      string `mapstructure:"date_layout" yaml:"date_layout"`
	MissingQuantity string `mapstructure:"missing_quantity" yaml:"missing_quantity"`
	Sheet           string `mapstructure:"sheet" yaml:"sheet,omitempty"`
	SheetIndex      int    `mapstructure:"sheet_index" yaml:"sheet_index,omitempty"`
	Delimiter       string `mapstructure:"delimiter" yaml:"delimiter,omitempty"`
}

// Alias maps a ledger ticker to the symbol the provider knows.
type Alias struct {
	Ledger   string `mapstructure:"ledger" yaml:"ledger"`
	Provider string `mapstructure:"provider" yaml:"provider"`
}

// Market configures price retrieval.
type Market struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	PadDays  int    `mapstructure:"pad_days" yaml:"pad_days"`
	Workers  int    `mapstructure:"workers" yaml:"workers"`
	// RateLimit is requests per second across all workers; 0 disables it.
	RateLimit        float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	HTTPTimeoutSec   int     `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int     `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int     `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int     `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
	UserAgent        string  `mapstructure:"user_agent" yaml:"user_agent,omitempty"`
	Unadjusted       bool    `mapstructure:"unadjusted" yaml:"unadjusted,omitempty"`

	YahooBaseURL  string  `mapstructure:"yahoo_base_url" yaml:"yahoo_base_url,omitempty"`
	EODHDBaseURL  string  `mapstructure:"eodhd_base_url" yaml:"eodhd_base_url,omitempty"`
	EODHDAPIKey   string  `mapstructure:"eodhd_api_key" yaml:"eodhd_api_key,omitempty"`
	EODHDExchange string  `mapstructure:"eodhd_exchange" yaml:"eodhd_exchange,omitempty"`
	PricesCSV     string  `mapstructure:"prices_csv" yaml:"prices_csv,omitempty"`
	Aliases       []Alias `mapstructure:"aliases" yaml:"aliases,omitempty"`
}

// AliasMap returns aliases keyed by ledger ticker.
func (m Market) AliasMap() map[string]string {
	out := make(map[string]string, len(m.Aliases))
	for _, a := range m.Aliases {
		if a.Ledger != "" && a.Provider != "" {
			out[a.Ledger] = a.Provider
		}
	}
	return out
}

// Analysis configures the analyze stage.
type Analysis struct {
	Events         []analysis.EventSpec `mapstructure:"events" yaml:"events"`
	Alpha          float64              `mapstructure:"alpha" yaml:"alpha"`
	SpikeThreshold float64              `mapstructure:"spike_threshold" yaml:"spike_threshold"`
}

// Outputs names the artifacts written under DataDir.
type Outputs struct {
	MessageCounts string `mapstructure:"message_counts" yaml:"message_counts"`
	CleanedLedger string `mapstructure:"cleaned_ledger" yaml:"cleaned_ledger"`
	Valuation     string `mapstructure:"valuation" yaml:"valuation"`
	Diagnostics   string `mapstructure:"diagnostics" yaml:"diagnostics"`
	Final         string `mapstructure:"final" yaml:"final"`
	// FinalFormat is csv or parquet; parquet also keeps the csv.
	FinalFormat string `mapstructure:"final_format" yaml:"final_format"`
	Trend       string `mapstructure:"trend" yaml:"trend"`
	Report      string `mapstructure:"report" yaml:"report"`
	PDF         bool   `mapstructure:"pdf" yaml:"pdf"`
	Manifest    string `mapstructure:"manifest" yaml:"manifest"`
}

// Providers lists the supported market data providers.
var Providers = []string{"yahoo", "eodhd", "csv"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("messages.dir", "inbox")
	v.SetDefault("messages.pattern", "message_*.json")
	v.SetDefault("messages.keywords", []string{})
	v.SetDefault("messages.utc_offset_hours", 9)

	v.SetDefault("holdings.ledger", "stock.xlsx")
	v.SetDefault("holdings.date_layout", holdings.DefaultDateLayout)
	v.SetDefault("holdings.missing_quantity", "treat_as_zero")

	v.SetDefault("market.provider", "yahoo")
	v.SetDefault("market.pad_days", 7)
	v.SetDefault("market.workers", 4)
	v.SetDefault("market.rate_limit", 2.0)
	v.SetDefault("market.http_timeout_sec", 30)
	v.SetDefault("market.retry_max_attempts", 3)
	v.SetDefault("market.retry_base_delay_ms", 500)
	v.SetDefault("market.retry_max_delay_ms", 8000)
	v.SetDefault("market.eodhd_exchange", "US")

	v.SetDefault("analysis.events", eventDefaults())
	v.SetDefault("analysis.alpha", analysis.DefaultAlpha)
	v.SetDefault("analysis.spike_threshold", analysis.DefaultSpikeThreshold)

	v.SetDefault("outputs.message_counts", "message_daily.csv")
	v.SetDefault("outputs.cleaned_ledger", "stock_cleaned.csv")
	v.SetDefault("outputs.valuation", "portfolio_with_price.csv")
	v.SetDefault("outputs.diagnostics", "price_diagnostics.csv")
	v.SetDefault("outputs.final", "final_analysis_data.csv")
	v.SetDefault("outputs.final_format", "csv")
	v.SetDefault("outputs.trend", "trend_visualization.png")
	v.SetDefault("outputs.report", "analysis_report.md")
	v.SetDefault("outputs.pdf", false)
	v.SetDefault("outputs.manifest", "run_manifest.json")
}

func eventDefaults() []map[string]any {
	var out []map[string]any
	for _, ev := range analysis.DefaultEvents() {
		out = append(out, map[string]any{
			"name":      ev.Name,
			"threshold": ev.Threshold,
			"direction": string(ev.Direction),
			"file":      ev.File,
		})
	}
	return out
}

// Load reads configuration with precedence env > config file > defaults.
// Flags are applied by the caller on top. A .env file in the working
// directory is loaded first; a missing one is ignored.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("moodfolio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := userDir(); err == nil {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(c.Analysis.Events) == 0 {
		c.Analysis.Events = analysis.DefaultEvents()
	}
	return &c, nil
}

// Save writes c as yaml to cfgFile, or to ~/.moodfolio/moodfolio.yaml when
// cfgFile is empty.
func Save(c *Config, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := userDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "moodfolio.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func userDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".moodfolio"), nil
}

// Validate checks settings every stage depends on.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	if !contains(Providers, c.Market.Provider) {
		errs = append(errs, fmt.Errorf("market.provider %q: want one of %s", c.Market.Provider, strings.Join(Providers, ", ")))
	}
	if c.Market.Provider == "csv" && c.Market.PricesCSV == "" {
		errs = append(errs, errors.New("market.prices_csv is required for the csv provider"))
	}
	if c.Market.PadDays <= 0 {
		errs = append(errs, fmt.Errorf("market.pad_days must be positive, got %d", c.Market.PadDays))
	}
	if _, err := holdings.ParsePolicy(c.Holdings.MissingQuantity); err != nil {
		errs = append(errs, fmt.Errorf("holdings.missing_quantity: %w", err))
	}
	if d := c.Holdings.Delimiter; len([]rune(d)) > 1 {
		errs = append(errs, fmt.Errorf("holdings.delimiter %q: want a single character", d))
	}
	switch c.Outputs.FinalFormat {
	case "", "csv", "parquet":
	default:
		errs = append(errs, fmt.Errorf("outputs.final_format %q: want csv or parquet", c.Outputs.FinalFormat))
	}
	for _, ev := range c.Analysis.Events {
		if _, err := analysis.ParseDirection(string(ev.Direction)); err != nil {
			errs = append(errs, fmt.Errorf("analysis.events[%s]: %w", ev.Name, err))
		}
		if strings.TrimSpace(ev.Name) == "" {
			errs = append(errs, errors.New("analysis.events: event without a name"))
		}
	}
	if a := c.Analysis.Alpha; a <= 0 || a >= 1 {
		errs = append(errs, fmt.Errorf("analysis.alpha must be in (0,1), got %g", a))
	}
	return errors.Join(errs...)
}

// ValidateExtract checks what the extract stage needs beyond Validate.
func (c *Config) ValidateExtract() error {
	if strings.TrimSpace(c.Messages.Sender) == "" {
		return errors.New("messages.sender is empty")
	}
	if len(c.Messages.Keywords) == 0 {
		return errors.New("messages.keywords is empty")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Set assigns a yaml-parsed value to a dotted key such as market.pad_days.
// Only keys present in the yaml form of c are accepted.
func (c *Config) Set(key, value string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("parse value for %s: %w", key, err)
	}
	parts := strings.Split(key, ".")
	node := tree
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown key: %s", key)
		}
		node = next
	}
	leaf := parts[len(parts)-1]
	if _, ok := node[leaf]; !ok && !optionalKeys[key] {
		return fmt.Errorf("unknown key: %s", key)
	}
	node[leaf] = parsed

	if b, err = yaml.Marshal(tree); err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	var next Config
	if err := yaml.Unmarshal(b, &next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*c = next
	return nil
}

// optionalKeys are omitted from yaml while empty but may still be set.
var optionalKeys = map[string]bool{
	"log_file":              true,
	"holdings.sheet":        true,
	"holdings.sheet_index":  true,
	"holdings.delimiter":    true,
	"market.user_agent":     true,
	"market.unadjusted":     true,
	"market.yahoo_base_url": true,
	"market.eodhd_base_url": true,
	"market.eodhd_api_key":  true,
	"market.eodhd_exchange": true,
	"market.prices_csv":     true,
	"market.aliases":        true,
}
