package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/project-analytics/internal/aggregator"
	"github.com/kurihiro0119/project-analytics/internal/app"
	"github.com/kurihiro0119/project-analytics/internal/config"
	"github.com/kurihiro0119/project-analytics/internal/domain"
	"github.com/kurihiro0119/project-analytics/pkg/client"
)

var (
	cfgFile    string
	outputJSON bool
	verbose    bool
	last       string
	days       int
	remote     bool
	limit      int
	restore    string
	refreshETL bool

	useGitHub bool
	useZulip  bool
	useDocs   bool
	usePyPI   bool
)

var rootCmd = &cobra.Command{
	Use:   "project-analytics",
	Short: "Open-source project metrics pipeline and dashboard",
	Long: `A CLI tool for ingesting and visualizing open-source project activity.

It ingests GitHub, PyPI, Zulip and GoatCounter data, loads it into an
embedded DuckDB catalog and serves a dashboard refreshed on a timer.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest raw data from upstream APIs",
	Long:  `Fetch raw data into the lake. Without source flags every source is ingested.`,
	Args:  cobra.NoArgs,
	RunE:  runIngest,
}

var etlCmd = &cobra.Command{
	Use:     "etl",
	Aliases: []string{"run"},
	Short:   "Extract, transform and load ingested data",
	Long:    `Rebuild the finalized tables from raw files. Without source flags every source is processed.`,
	Args:    cobra.NoArgs,
	RunE:    runETL,
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"dashboard"},
	Short:   "Serve the dashboard",
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

var showCmd = &cobra.Command{
	Use:   "show [table]",
	Short: "Show totals, or the rolling series of one table",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "List recent runs, or show the steps of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot raw files and finalized tables",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

var cleanCmd = &cobra.Command{
	Use:       "clean [lake|ingest|all]",
	Short:     "Remove loaded tables, ingested files, or both",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"lake", "ingest", "all"},
	RunE:      runClean,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	for _, cmd := range []*cobra.Command{ingestCmd, etlCmd} {
		cmd.Flags().BoolVar(&useGitHub, "gh", false, "GitHub")
		cmd.Flags().BoolVar(&useZulip, "zulip", false, "Zulip")
		cmd.Flags().BoolVar(&useDocs, "docs", false, "GoatCounter docs analytics")
		cmd.Flags().BoolVar(&usePyPI, "pypi", false, "PyPI downloads")
	}

	serveCmd.Flags().BoolVar(&refreshETL, "refresh-etl", false, "re-run the ETL on every refresh")

	showCmd.Flags().StringVar(&last, "last", "28d", "range (7d, 14d, 28d, 91d, 182d, 365d, 730d, all)")
	showCmd.Flags().IntVar(&days, "days", 0, "rolling window in days (default from project file)")
	showCmd.Flags().BoolVar(&remote, "remote", false, "read from the dashboard API instead of the local catalog")

	runsCmd.Flags().IntVar(&limit, "limit", 20, "number of runs")

	backupCmd.Flags().StringVar(&restore, "restore", "", "restore raw files from a snapshot")

	rootCmd.AddCommand(ingestCmd, etlCmd, serveCmd, showCmd, runsCmd, backupCmd, cleanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func selectedSources() []domain.Source {
	var sources []domain.Source
	if useGitHub {
		sources = append(sources, domain.SourceGitHub)
	}
	if usePyPI {
		sources = append(sources, domain.SourcePyPI)
	}
	if useDocs {
		sources = append(sources, domain.SourceDocs)
	}
	if useZulip {
		sources = append(sources, domain.SourceZulip)
	}
	if len(sources) == 0 {
		return domain.AllSources
	}
	return sources
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, slog.Default())
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	collectors, err := a.Collectors(ctx, selectedSources())
	if err != nil {
		return err
	}

	run, runErr := a.Pipeline.Ingest(ctx, collectors)
	if run != nil {
		if err := printRun(run); err != nil {
			return err
		}
	}
	return runErr
}

func runETL(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	run, runErr := a.Pipeline.Run(ctx, selectedSources())
	if run != nil {
		if err := printRun(run); err != nil {
			return err
		}
	}
	return runErr
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("refresh-etl") {
		cfg.RefreshETL = refreshETL
	}

	a, err := app.Open(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Serve(ctx)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	window := days
	if window <= 0 {
		window = cfg.Project.RollingDays
	}

	var src metricSource
	if remote {
		src = &remoteSource{client: client.NewClient(cfg.APIEndpoint), last: last}
	} else {
		a, err := app.Open(ctx, cfg, slog.Default())
		if err != nil {
			return err
		}
		defer a.Close()
		timeRange, err := domain.LastRange(last, time.Now().UTC())
		if err != nil {
			return err
		}
		src = &localSource{agg: a.Aggregator(), timeRange: timeRange}
	}

	if len(args) == 0 {
		overview, err := src.overview(ctx)
		if err != nil {
			return fmt.Errorf("failed to get metrics: %w", err)
		}
		if outputJSON {
			return printJSON(overview)
		}

		fmt.Printf("\nTotals (last %s)\n\n", last)
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Metric", "Table", "Value"})
		for _, t := range overview.Totals {
			table.Append([]string{t.Title, string(t.Table), strconv.FormatFloat(t.Value, 'f', -1, 64)})
		}
		table.Render()
		return nil
	}

	series, err := src.rolling(ctx, args[0], window)
	if err != nil {
		return fmt.Errorf("failed to get metrics: %w", err)
	}
	if outputJSON {
		return printJSON(series)
	}

	fmt.Printf("\n%s, rolling %d days (last %s)\n\n", args[0], window, last)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Day", "Value"})
	for _, p := range series.DataPoints {
		table.Append([]string{p.Timestamp.Format("2006-01-02"), strconv.FormatFloat(p.Value, 'f', -1, 64)})
	}
	table.Render()
	return nil
}

type metricSource interface {
	overview(ctx context.Context) (*domain.Overview, error)
	rolling(ctx context.Context, table string, days int) (*domain.TimeSeriesData, error)
}

type localSource struct {
	agg       aggregator.Aggregator
	timeRange domain.TimeRange
}

func (s *localSource) overview(ctx context.Context) (*domain.Overview, error) {
	return s.agg.Overview(ctx, s.timeRange)
}

func (s *localSource) rolling(ctx context.Context, table string, days int) (*domain.TimeSeriesData, error) {
	return s.agg.Rolling(ctx, table, days, s.timeRange)
}

type remoteSource struct {
	client *client.Client
	last   string
}

func (s *remoteSource) overview(ctx context.Context) (*domain.Overview, error) {
	return s.client.GetOverview(ctx, client.Range{Last: s.last})
}

func (s *remoteSource) rolling(ctx context.Context, table string, days int) (*domain.TimeSeriesData, error) {
	return s.client.GetRolling(ctx, table, days, client.Range{Last: s.last})
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := app.GetStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	if len(args) == 1 {
		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return printRun(run)
	}

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(runs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Kind", "Sources", "Status", "Started", "Duration", "Error"})
	for _, r := range runs {
		duration := ""
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		table.Append([]string{
			r.ID,
			r.Kind,
			fmt.Sprint(r.Sources),
			r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			truncate(r.Error, 60),
		})
	}
	table.Render()
	return nil
}

func printRun(run *domain.Run) error {
	if outputJSON {
		return printJSON(run)
	}

	fmt.Printf("\nRun %s (%s): %s\n\n", run.ID, run.Kind, run.Status)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Stage", "Table", "Rows", "Status", "Duration", "Error"})
	for _, s := range run.Steps {
		table.Append([]string{
			string(s.Stage),
			s.Table,
			strconv.FormatInt(s.Rows, 10),
			s.Status,
			s.Duration.Round(time.Millisecond).String(),
			truncate(s.Error, 60),
		})
	}
	table.Render()
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	b := a.Backup()
	if restore != "" {
		n, err := b.Restore(restore)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %d files from %s\n", n, restore)
		return nil
	}

	res, err := b.Run(ctx)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(res)
	}
	fmt.Printf("Backed up %d files and %d tables to %s\n", res.Files, len(res.Tables), res.Dir)
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	target := args[0]
	if target != "lake" && target != "ingest" && target != "all" {
		return fmt.Errorf("clean target must be lake, ingest or all")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if target == "lake" || target == "all" {
		if err := a.Pipeline.CleanLake(ctx); err != nil {
			return err
		}
		fmt.Println("Removed loaded tables")
	}
	if target == "ingest" || target == "all" {
		if err := a.Raw.Clean(); err != nil {
			return err
		}
		fmt.Println("Removed ingested files")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
