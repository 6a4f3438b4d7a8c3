package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/moodfolio/internal/config"
	"github.com/KaramelBytes/moodfolio/internal/logger"
	"github.com/KaramelBytes/moodfolio/internal/pipeline"
)

var (
	cfgFile  string
	debug    bool
	logLevel string
	logFile  string
	dataDir  string
	// Retry/HTTP flags (override config if set)
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int

	cfg    *cfgpkg.Config
	cfgErr error
	log    logrus.FieldLogger = logger.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "moodfolio",
	Short: "Correlate daily messaging about a topic with daily portfolio returns",
	Long: `moodfolio counts one person's topic-related messages per day, values their
stock ledger with historical closes, and tests whether the two move together.
Each stage reads and writes flat files under the data directory and can be run
on its own; "moodfolio run" executes all six in order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is ./moodfolio.yaml or ~/.moodfolio/moodfolio.yaml)")
	f.BoolVar(&debug, "debug", false, "enable debug logging")
	f.StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	f.StringVar(&logFile, "log-file", "", "also write logs to this rotating file")
	f.StringVar(&dataDir, "data-dir", "", "directory for all artifacts (overrides config)")
	f.IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	f.IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max retry attempts on 429/5xx (overrides config)")
	f.IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	f.IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal here: commands that need config report it.
		cfg, cfgErr = nil, err
		log = logger.New(logger.Options{Level: levelOverride("")})
		return
	}
	cfg, cfgErr = c, nil

	f := rootCmd.PersistentFlags()
	if f.Changed("data-dir") && dataDir != "" {
		cfg.DataDir = dataDir
	}
	if f.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.Market.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.Market.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.Market.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.Market.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
	cfg.LogLevel = levelOverride(cfg.LogLevel)
	log = logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
}

func levelOverride(fromConfig string) string {
	switch {
	case debug:
		return "debug"
	case logLevel != "":
		return logLevel
	}
	return fromConfig
}

// requireConfig returns the loaded, validated configuration.
func requireConfig() (*cfgpkg.Config, error) {
	if cfg == nil {
		if cfgErr != nil {
			return nil, fmt.Errorf("load config: %w", cfgErr)
		}
		return nil, errors.New("no configuration loaded")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newEnv(cmd *cobra.Command) (*pipeline.Env, error) {
	c, err := requireConfig()
	if err != nil {
		return nil, err
	}
	return pipeline.NewEnv(c, log, cmd.OutOrStdout()), nil
}
