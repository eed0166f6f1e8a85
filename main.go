package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"asset-trader/asset"
	"asset-trader/config"
	"asset-trader/engine"
	"asset-trader/execution"
	"asset-trader/marketdata"
	"asset-trader/metrics"
	"asset-trader/positioning"
	"asset-trader/server"
	"asset-trader/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	envPath    string
	logLevel   string
	devLogging bool

	paperTrading bool
	listenAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "asset-trader",
	Short: "Budgeted equity and option-spread positions driven by streaming market data",
	Long: `asset-trader keeps a set of independently budgeted assets, each an equity
accumulation or a put back-ratio, and adjusts them on every market data event
during US market hours.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the feed and trade until interrupted",
	Long: `Connect to the market data feed and trade until SIGINT or SIGTERM.

Example usage:
  asset-trader run --config config.yaml
  asset-trader run --paper --listen :9090`,
	RunE: runTrader,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print persisted holdings, cost with margin, profit and slippage",
	RunE:  runStatus,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Resolve every asset's budget and definition and report errors",
	RunE:  runValidate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "Path to the .env file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&devLogging, "dev", false, "Human-readable development logging")

	runCmd.Flags().BoolVar(&paperTrading, "paper", false, "Route orders to the in-memory paper broker")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "Status server address (overrides the config)")

	rootCmd.AddCommand(runCmd, statusCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	cfg := zap.NewProductionConfig()
	if devLogging {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	return cfg.Build()
}

// setup loads the environment, the configuration and the persisted assets.
func setup(ctx context.Context, logger *zap.Logger) (*config.Config, asset.Store, func() error, []*asset.Asset, error) {
	if err := config.LoadEnv(envPath); err != nil {
		logger.Info("No .env file loaded, relying on the environment", zap.String("path", envPath), zap.Error(err))
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	store, closeStore := cfg.OpenStore(logger)
	assets, err := store.Load(ctx)
	if err != nil {
		_ = closeStore()
		return nil, nil, nil, nil, fmt.Errorf("failed to load assets: %w", err)
	}
	return cfg, store, closeStore, assets, nil
}

// =============================================================================
// RUN
// =============================================================================

// trader is the wired event pipeline.
type trader struct {
	engine   *engine.Engine
	runner   *strategy.Runner
	recorder *metrics.Recorder
	registry *prometheus.Registry
	bindings []*strategy.Binding
}

// newTrader resolves the assets and subscribes the strategy runner, the probes and the
// metrics to the engine, in that order. Assets that fail to resolve are logged and left
// untouched but still persisted.
func newTrader(cfg *config.Config, assets []*asset.Asset, store asset.Store, broker execution.Broker,
	source func(marketdata.FeedConfig) engine.Source, logger *zap.Logger) *trader {
	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	bindings, err := cfg.Resolve(assets, config.Deps{Broker: broker, Observer: recorder, Logger: logger})
	if err != nil {
		logger.Warn("Some assets could not be resolved", zap.Error(err))
	}
	runner := strategy.NewRunner(bindings, logger)

	eng := engine.New(cfg.Engine, source(feedConfig(cfg.Feed, runner.Instruments())), store, assets, logger)
	eng.SetMetrics(recorder)
	eng.Subscribe("strategies", func(ctx context.Context, book *marketdata.Book, _ []string) {
		runner.RunStrategies(ctx, book)
	})
	eng.Subscribe("probes", func(ctx context.Context, book *marketdata.Book, _ []string) {
		runner.RunProbes(ctx, book)
	})
	eng.Subscribe("metrics", func(_ context.Context, book *marketdata.Book, _ []string) {
		recorder.RecordBindings(book, bindings)
	})

	return &trader{engine: eng, runner: runner, recorder: recorder, registry: registry, bindings: bindings}
}

// feedConfig subscribes quotes and bars for every instrument and option chains where
// a structure trades options.
func feedConfig(base marketdata.FeedConfig, instruments []positioning.Instrument) marketdata.FeedConfig {
	cfg := base
	cfg.Quotes, cfg.Bars, cfg.Options = nil, nil, nil
	for _, in := range instruments {
		cfg.Quotes = append(cfg.Quotes, in.Ticker)
		cfg.Bars = append(cfg.Bars, in.Ticker)
		if in.Options {
			cfg.Options = append(cfg.Options, marketdata.OptionSubscription{
				Ticker:      in.Ticker,
				MaxDTE:      in.MaxDTE,
				StrikeCount: in.StrikeCount,
			})
		}
	}
	return cfg
}

func runTrader(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, store, closeStore, assets, err := setup(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("Failed to close asset store", zap.Error(err))
		}
	}()

	var broker execution.Broker
	if paperTrading {
		broker = execution.NewPaperBroker(logger)
		logger.Info("Paper trading enabled")
	} else {
		rest, err := execution.NewRESTBroker(cfg.Broker, logger)
		if err != nil {
			return fmt.Errorf("failed to create broker: %w", err)
		}
		logger.Info("Broker ready", zap.String("url", cfg.Broker.BaseURL), zap.String("address", rest.Address()))
		broker = rest
	}

	t := newTrader(cfg, assets, store, broker, func(fc marketdata.FeedConfig) engine.Source {
		return marketdata.NewFeed(fc, logger)
	}, logger)
	t.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Listen
	if listenAddr != "" {
		srvCfg.Addr = listenAddr
	}
	srv := server.New(srvCfg, t.engine, t.registry, logger)
	srv.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case s := <-sig:
			logger.Info("Shutdown signal received", zap.String("signal", s.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("Trader started",
		zap.Int("assets", len(assets)),
		zap.Int("bound", len(t.bindings)),
		zap.Bool("paper", paperTrading))
	runErr := t.engine.Run(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Status server shutdown failed", zap.Error(err))
	}
	stats := t.engine.Stats()
	logger.Info("Trader stopped", zap.Int64("events", stats.Events), zap.Int64("saves", stats.Saves))
	return runErr
}

// =============================================================================
// STATUS / VALIDATE
// =============================================================================

func runStatus(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, _, closeStore, assets, err := setup(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	// Resolution only supplies the cost model; nothing is traded.
	bindings, _ := cfg.Resolve(assets, config.Deps{Broker: execution.NewPaperBroker(nil), Logger: zap.NewNop()})
	return printStatus(cmd.OutOrStdout(), assets, bindings)
}

func printStatus(out io.Writer, assets []*asset.Asset, bindings []*strategy.Binding) error {
	structures := make(map[*asset.Asset]positioning.Structure, len(bindings))
	for _, b := range bindings {
		structures[b.Asset] = b.Structure
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tCLASS\tENABLED\tHOLDINGS\tCOST WITH MARGIN\tPROFIT\tSLIPPAGE")
	for _, a := range assets {
		cost := "-"
		if s, ok := structures[a]; ok {
			cost = s.CostWithMargin(a).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
			a.DisplayName(), a.Class, a.Enable, holdings(a), cost, a.Profit.StringFixed(2), a.Slippage.StringFixed(2))
	}
	return w.Flush()
}

func holdings(a *asset.Asset) string {
	switch {
	case a.IsFlat():
		return "flat"
	case len(a.Legs) > 0:
		var legs []string
		for _, leg := range a.Legs.All() {
			legs = append(legs, fmt.Sprintf("%+d %s", leg.Quantity, leg.Symbol))
		}
		return strings.Join(legs, " ")
	default:
		return fmt.Sprintf("%d shares", a.Quantity())
	}
}

func runValidate(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, _, closeStore, assets, err := setup(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	bindings, err := cfg.Resolve(assets, config.Deps{Broker: execution.NewPaperBroker(nil), Logger: zap.NewNop()})
	out := cmd.OutOrStdout()
	for _, b := range bindings {
		fmt.Fprintf(out, "ok     %s (%s, %s)\n", b.Asset.DisplayName(), b.Structure.Name(), b.Strategy.Name())
	}
	if err != nil {
		for _, e := range unwrapJoined(err) {
			fmt.Fprintf(out, "error  %v\n", e)
		}
		return fmt.Errorf("%d of %d assets failed validation", len(assets)-len(bindings), len(assets))
	}
	return nil
}

func unwrapJoined(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}
