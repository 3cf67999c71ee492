// dcfscan — DCF intrinsic valuation, history and screening for stocks.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcfscan/dcfscan/api"
	"github.com/dcfscan/dcfscan/internal/batch"
	"github.com/dcfscan/dcfscan/internal/config"
	"github.com/dcfscan/dcfscan/internal/datasource"
	"github.com/dcfscan/dcfscan/internal/history"
	"github.com/dcfscan/dcfscan/internal/report"
	"github.com/dcfscan/dcfscan/internal/screen"
	"github.com/dcfscan/dcfscan/internal/trend"
	"github.com/dcfscan/dcfscan/internal/valuation"
	"github.com/dcfscan/dcfscan/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dcfscan",
	Short: "dcfscan — DCF intrinsic valuation, history and screening",
	Long: `dcfscan computes discounted-cash-flow intrinsic valuations from
historical per-share financials, records every run, and screens the
accumulated results for undervalued candidates.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("store", "", "history backend override (memory, postgres)")
	rootCmd.PersistentFlags().String("source", "", "data source override (stockanalysis, csv)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(screenCmd)
	rootCmd.AddCommand(trendingCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(serveCmd)
}

// --- Shared construction helpers ---

func buildSource(cmd *cobra.Command) (datasource.Source, error) {
	provider := cfg.Datasource.Provider
	if v, _ := cmd.Flags().GetString("source"); v != "" {
		provider = v
	}
	switch provider {
	case "stockanalysis":
		return datasource.NewStockAnalysis(), nil
	case "csv":
		return datasource.NewCSVSource(cfg.Datasource.CSVDir), nil
	default:
		return nil, fmt.Errorf("unknown data source %q (have: stockanalysis, csv)", provider)
	}
}

func buildStore(ctx context.Context, cmd *cobra.Command) (history.Store, error) {
	backend := cfg.Store.Backend
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		backend = v
	}
	switch backend {
	case "memory":
		return history.NewMemoryStore(), nil
	case "postgres":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires store.dsn (or DCFSCAN_STORE_DSN)")
		}
		return history.NewPostgresStore(ctx, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q (have: memory, postgres)", backend)
	}
}

// resolveParams layers flags over a preset over the configured defaults.
func resolveParams(cmd *cobra.Command) (models.Parameters, error) {
	params := cfg.Valuation.ToParameters()

	if name, _ := cmd.Flags().GetString("preset"); name != "" {
		preset, err := config.ValuationPresetByName(name)
		if err != nil {
			return models.Parameters{}, err
		}
		params = preset.Params
	}

	if cmd.Flags().Changed("wacc") {
		params.WACC, _ = cmd.Flags().GetFloat64("wacc")
	}
	if cmd.Flags().Changed("terminal-growth") {
		params.TerminalGrowth, _ = cmd.Flags().GetFloat64("terminal-growth")
	}
	if cmd.Flags().Changed("growth") {
		params.GrowthRate, _ = cmd.Flags().GetFloat64("growth")
	}
	if cmd.Flags().Changed("years") {
		params.ProjectionYears, _ = cmd.Flags().GetInt("years")
	}
	if cmd.Flags().Changed("mos") {
		params.MarginOfSafety, _ = cmd.Flags().GetFloat64("mos")
	}
	if cmd.Flags().Changed("input") {
		v, _ := cmd.Flags().GetString("input")
		params.Input = models.InputMetric(v)
	}
	if cmd.Flags().Changed("normalize") {
		params.NormalizationYears, _ = cmd.Flags().GetInt("normalize")
	}
	if cmd.Flags().Changed("mode") {
		v, _ := cmd.Flags().GetString("mode")
		params.Mode = models.CalcMode(v)
	}
	return params, nil
}

func addParamFlags(cmd *cobra.Command) {
	cmd.Flags().String("preset", "", "valuation preset (conservative, moderate, aggressive, high_growth, value)")
	cmd.Flags().Float64("wacc", 0, "discount rate override")
	cmd.Flags().Float64("terminal-growth", 0, "terminal growth rate override")
	cmd.Flags().Float64("growth", 0, "near-term growth rate override")
	cmd.Flags().Int("years", 0, "projection horizon override")
	cmd.Flags().Float64("mos", 0, "margin of safety override (0..1)")
	cmd.Flags().String("input", "", "input metric override (fcf, eps)")
	cmd.Flags().Int("normalize", 0, "normalization window override (years)")
	cmd.Flags().String("mode", "", "calculation mode override (per_share, equity_bridge)")
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dcfscan %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Analyze Command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [ticker]",
	Short: "Compute an intrinsic valuation for one stock",
	Long: `Fetch the stock's historical financials, run the DCF model, print
the result and record it in the valuation history.

Examples:
  dcfscan analyze AAPL
  dcfscan analyze AAPL --preset conservative
  dcfscan analyze AAPL --wacc 0.09 --growth 0.12 --mode equity_bridge`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ticker := strings.ToUpper(args[0])

		params, err := resolveParams(cmd)
		if err != nil {
			return err
		}
		source, err := buildSource(cmd)
		if err != nil {
			return err
		}
		store, err := buildStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Printf("🔍 Valuing %s via %s\n", ticker, source.Name())

		series, err := source.FetchSeries(ctx, ticker, cfg.Datasource.Lookback)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", ticker, err)
		}

		price, _ := cmd.Flags().GetFloat64("price")
		if price <= 0 {
			if fetched, err := source.FetchQuote(ctx, ticker); err == nil {
				price = fetched
			} else {
				fmt.Printf("⚠️  No quote available; result will be unrated (%v)\n", err)
			}
		}

		result, err := valuation.Value(series, params, price)
		if err != nil {
			return err
		}
		if _, err := store.Append(ctx, *result); err != nil {
			return fmt.Errorf("record valuation: %w", err)
		}

		printResult(result)
		return nil
	},
}

func init() {
	addParamFlags(analyzeCmd)
	analyzeCmd.Flags().Float64("price", 0, "market price override (skips quote fetch)")
}

func printResult(r *models.ValuationResult) {
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("  Ticker:           %s\n", r.Ticker)
	fmt.Printf("  Intrinsic value:  %.2f per share\n", r.IntrinsicValue)
	if r.Priced() {
		fmt.Printf("  Market price:     %.2f\n", r.CurrentPrice)
		fmt.Printf("  Discount:         %+.1f%%\n", r.DiscountPct)
	}
	fmt.Printf("  Classification:   %s\n", r.Classification)
	fmt.Printf("  Historical CAGR:  %+.1f%%\n", r.HistoricalGrowth*100)
	fmt.Printf("  PV projections:   %.2f   PV terminal: %.2f\n", r.PVProjections, r.PVTerminal)
	fmt.Println(strings.Repeat("─", 50))
}

// --- Batch Command ---

var batchCmd = &cobra.Command{
	Use:   "batch [ticker...]",
	Short: "Value many stocks concurrently",
	Long: `Run the fetch-compute-append pipeline for every ticker through a
worker pool. Per-ticker failures are reported at the end; they never
abort the run.

Examples:
  dcfscan batch AAPL MSFT GOOG AMZN
  dcfscan batch --file tickers.txt --preset value`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tickers := make([]string, 0, len(args))
		for _, t := range args {
			tickers = append(tickers, strings.ToUpper(t))
		}
		if file, _ := cmd.Flags().GetString("file"); file != "" {
			fromFile, err := readTickerFile(file)
			if err != nil {
				return err
			}
			tickers = append(tickers, fromFile...)
		}
		if len(tickers) == 0 {
			return fmt.Errorf("no tickers given (pass arguments or --file)")
		}

		params, err := resolveParams(cmd)
		if err != nil {
			return err
		}
		source, err := buildSource(cmd)
		if err != nil {
			return err
		}
		store, err := buildStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		runner := &batch.Runner{
			Source:   source,
			Store:    store,
			Workers:  cfg.Batch.Workers,
			Lookback: cfg.Datasource.Lookback,
			OnProgress: func(p batch.Progress) {
				if p.Err != nil {
					fmt.Printf("  [%d/%d] %s ❌ %v\n", p.Done, p.Total, p.Ticker, p.Err)
					return
				}
				fmt.Printf("  [%d/%d] %s ✅ intrinsic %.2f (%s)\n",
					p.Done, p.Total, p.Ticker, p.Result.IntrinsicValue, p.Result.Classification)
			},
		}

		fmt.Printf("⚙️  Valuing %d tickers with %d workers\n", len(tickers), runner.Workers)
		summary, err := runner.Run(ctx, tickers, params)
		if err != nil {
			return err
		}

		fmt.Printf("\nDone in %s: %d succeeded, %d failed\n",
			summary.Elapsed.Round(time.Millisecond), summary.Succeeded, len(summary.Failed))
		for _, f := range summary.Failed {
			fmt.Printf("  %s: %s\n", f.Ticker, f.Reason)
		}
		return nil
	},
}

func init() {
	addParamFlags(batchCmd)
	batchCmd.Flags().String("file", "", "file with one ticker per line")
}

func readTickerFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ticker file: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.ToUpper(line))
	}
	return out, nil
}

// --- Screen Command ---

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Filter and rank stored valuations",
	Long: `Screen the latest stored valuation per ticker (or the full history)
against filter criteria and print the ranked table.

Examples:
  dcfscan screen --min-discount 20
  dcfscan screen --screening-preset deep_value
  dcfscan screen --min-discount 15 --json screen.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := buildStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		var filter screen.Filter
		if name, _ := cmd.Flags().GetString("screening-preset"); name != "" {
			preset, err := config.ScreeningPresetByName(name)
			if err != nil {
				return err
			}
			filter = preset.Filter
		}
		setIfChanged := func(flag string, dst **float64) {
			if cmd.Flags().Changed(flag) {
				v, _ := cmd.Flags().GetFloat64(flag)
				*dst = &v
			}
		}
		setIfChanged("min-discount", &filter.MinDiscountPct)
		setIfChanged("max-discount", &filter.MaxDiscountPct)
		setIfChanged("min-intrinsic", &filter.MinIntrinsicValue)
		setIfChanged("max-intrinsic", &filter.MaxIntrinsicValue)
		setIfChanged("max-price", &filter.MaxCurrentPrice)
		if cmd.Flags().Changed("max-age") {
			filter.MaxAgeDays, _ = cmd.Flags().GetInt("max-age")
		}

		source := screen.SourceLatest
		if full, _ := cmd.Flags().GetBool("full-history"); full {
			source = screen.SourceHistory
		}

		recs, excluded, err := screen.New(store).Screen(ctx, filter, source)
		if err != nil {
			return err
		}

		if jsonPath, _ := cmd.Flags().GetString("json"); jsonPath != "" {
			f, err := os.Create(jsonPath)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()
			if err := screen.WriteJSON(f, filter, recs, excluded); err != nil {
				return err
			}
			fmt.Printf("📄 Exported %d results to %s\n", len(recs), jsonPath)
			return nil
		}

		fmt.Print(screen.Report(recs, excluded))
		return nil
	},
}

func init() {
	screenCmd.Flags().String("screening-preset", "", "screening preset (deep_value, moderate_value, quality_value, small_cap_value, overvalued)")
	screenCmd.Flags().Float64("min-discount", 0, "minimum discount percentage")
	screenCmd.Flags().Float64("max-discount", 0, "maximum discount percentage")
	screenCmd.Flags().Float64("min-intrinsic", 0, "minimum intrinsic value")
	screenCmd.Flags().Float64("max-intrinsic", 0, "maximum intrinsic value")
	screenCmd.Flags().Float64("max-price", 0, "maximum current price")
	screenCmd.Flags().Int("max-age", 0, "only records newer than this many days")
	screenCmd.Flags().Bool("full-history", false, "screen every stored record, not just the latest per ticker")
	screenCmd.Flags().String("json", "", "write JSON export to this file instead of printing")
}

// --- Export Command ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored valuations as JSON",
	Long: `Export the latest stored valuation per ticker (or the full history)
as a JSON document with summary statistics.

Examples:
  dcfscan export --out valuations.json
  dcfscan export --full-history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := buildStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		source := screen.SourceLatest
		if full, _ := cmd.Flags().GetBool("full-history"); full {
			source = screen.SourceHistory
		}

		recs, excluded, err := screen.New(store).Screen(ctx, screen.Filter{}, source)
		if err != nil {
			return err
		}

		out := os.Stdout
		if path, _ := cmd.Flags().GetString("out"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()
			out = f
		}
		return screen.WriteJSON(out, screen.Filter{}, recs, excluded)
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output file (default: stdout)")
	exportCmd.Flags().Bool("full-history", false, "export every stored record, not just the latest per ticker")
}

// --- Trending Command ---

var trendingCmd = &cobra.Command{
	Use:   "trending [ticker]",
	Short: "Show the intrinsic-value trend for a stock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ticker := strings.ToUpper(args[0])

		store, err := buildStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		periods, _ := cmd.Flags().GetInt("periods")
		result, err := trend.New(store).Trend(ctx, ticker, periods)
		if err != nil {
			return err
		}

		arrow := "→"
		switch result.Direction {
		case trend.DirectionImproving:
			arrow = "📈"
		case trend.DirectionDeteriorating:
			arrow = "📉"
		}
		fmt.Printf("%s %s: %s (avg %+.1f%% per run)\n",
			arrow, ticker, result.Direction, result.AvgChangePct)
		for _, p := range result.Points {
			fmt.Printf("  %s  %.2f\n", p.At.Format("2006-01-02 15:04"), p.IntrinsicValue)
		}

		if svgPath, _ := cmd.Flags().GetString("svg"); svgPath != "" {
			svg := report.TrendChart(result, report.ChartConfig{})
			if err := os.WriteFile(svgPath, []byte(svg), 0o644); err != nil {
				return fmt.Errorf("write chart: %w", err)
			}
			fmt.Printf("📄 Chart written to %s\n", svgPath)
		}
		return nil
	},
}

func init() {
	trendingCmd.Flags().Int("periods", 10, "number of recent runs to analyze")
	trendingCmd.Flags().String("svg", "", "write an SVG trend chart to this file")
}

// --- Presets Command ---

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List valuation and screening presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Valuation presets:")
		for _, name := range config.ValuationPresetNames() {
			p, err := config.ValuationPresetByName(name)
			if err != nil {
				continue
			}
			fmt.Printf("  %-14s %s\n", name, p.Description)
			fmt.Printf("  %-14s wacc %.0f%%, growth %.0f%%, terminal %.1f%%, %d years, mos %.0f%%\n",
				"", p.Params.WACC*100, p.Params.GrowthRate*100,
				p.Params.TerminalGrowth*100, p.Params.ProjectionYears,
				p.Params.MarginOfSafety*100)
		}
		fmt.Println("\nScreening presets:")
		for _, name := range config.ScreeningPresetNames() {
			p, err := config.ScreeningPresetByName(name)
			if err != nil {
				continue
			}
			fmt.Printf("  %-16s %s\n", name, p.Description)
		}
		return nil
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		source, err := buildSource(cmd)
		if err != nil {
			return err
		}
		store, err := buildStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		fmt.Printf("🌐 Starting dcfscan API server on %s (source %s, store %s)\n",
			addr, source.Name(), cfg.Store.Backend)

		return api.NewServer(cfg, source, store).ListenAndServe(addr)
	},
}
