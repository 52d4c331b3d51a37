package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/tradesolutions39/stock-dashboard/internal/app"
	"github.com/tradesolutions39/stock-dashboard/internal/auth"
	"github.com/tradesolutions39/stock-dashboard/internal/blobstore"
	"github.com/tradesolutions39/stock-dashboard/internal/config"
	"github.com/tradesolutions39/stock-dashboard/internal/genai"
	"github.com/tradesolutions39/stock-dashboard/internal/logger"
	"github.com/tradesolutions39/stock-dashboard/internal/nse"
	"github.com/tradesolutions39/stock-dashboard/internal/recorder"
	"github.com/tradesolutions39/stock-dashboard/internal/scheduler"
)

var (
	configFile     string
	logLevel       string
	storeBackend   string
	storeDir       string
	driveFolderID  string
	credentialsKey string
	candidatesFile string
	sqlitePath     string
	verbose        bool
	version        bool

	fromDate    string
	toDate      string
	topWindow   int
	showWindow  int
	minPercent  float64
	maxPercent  float64
	scanLimit   int
	topLimit    int
	runsLimit   int
	bucketName  string
	parquetDir  string
	cronSpec    string
	runOnStart  bool
	lookback    int
	requestWait int
)

var version_string = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree and binds every flag.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stockdash",
		Short:         "NSE delivery-percentage scanner",
		Long:          `Fetches the NSE bhavcopy with deliverable positions, keeps a rolling history in a shared store, and ranks stocks by delivery percentage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if version {
				fmt.Printf("stockdash version %s\n", version_string)
				return nil
			}
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "config.yaml", "Path to config file")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&storeBackend, "store", "", "Store backend (local or drive)")
	pf.StringVar(&storeDir, "store-dir", "", "Directory for the local store")
	pf.StringVar(&driveFolderID, "drive-folder", "", "Google Drive folder id for the drive store")
	pf.StringVar(&credentialsKey, "credentials", "", "Service account key file for the drive store")
	pf.StringVar(&candidatesFile, "candidates", "", "YAML file with extra header candidates")
	pf.StringVar(&sqlitePath, "sqlite", "", "SQLite file for the run log")
	pf.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.Flags().BoolVar(&version, "version", false, "Print version information")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the latest bhavcopy and publish it as the snapshot",
		Args:  cobra.NoArgs,
		RunE:  runFetch,
	}
	fetchCmd.Flags().IntVar(&lookback, "lookback", 0, "Calendar days to walk back looking for a published bhavcopy")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch the latest bhavcopy, publish the snapshot and merge it into the history",
		Args:  cobra.NoArgs,
		RunE:  runIngest,
	}
	ingestCmd.Flags().IntVar(&lookback, "lookback", 0, "Calendar days to walk back looking for a published bhavcopy")

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fetch every weekday in a range and merge it into the history",
		Args:  cobra.NoArgs,
		RunE:  runBackfill,
	}
	backfillCmd.Flags().StringVar(&fromDate, "from", "", "Start date (YYYY-MM-DD, default one year before --to)")
	backfillCmd.Flags().StringVar(&toDate, "to", "", "End date (YYYY-MM-DD, default today)")
	backfillCmd.Flags().IntVar(&requestWait, "request-delay", 0, "Delay between requests in milliseconds")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Bucket the snapshot by delivery percentage",
		Args:  cobra.NoArgs,
		RunE:  runScan,
	}
	scanCmd.Flags().StringVar(&bucketName, "bucket", "", "Only show one bucket (strong, accumulation, weak)")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "Rows per bucket (0 for all)")

	topCmd := &cobra.Command{
		Use:   "top",
		Short: "Rank symbols by trailing average delivery percentage",
		Args:  cobra.NoArgs,
		RunE:  runTop,
	}
	topCmd.Flags().IntVar(&topWindow, "window", 0, "Trailing window in trading days (default history.window)")
	topCmd.Flags().Float64Var(&minPercent, "min", 80, "Lower bound, inclusive")
	topCmd.Flags().Float64Var(&maxPercent, "max", 100, "Upper bound, inclusive")
	topCmd.Flags().IntVar(&topLimit, "limit", 50, "Maximum rows (0 for all)")

	showCmd := &cobra.Command{
		Use:   "show SYMBOL",
		Short: "Show the latest values and trailing average for one symbol",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	showCmd.Flags().IntVar(&showWindow, "window", 0, "Trailing window in trading days (default history.window)")

	decodeCmd := &cobra.Command{
		Use:   "decode SYMBOL",
		Short: "Explain a stock's delivery percentage with generated commentary",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode,
	}

	exportCmd := &cobra.Command{
		Use:   "export-parquet",
		Short: "Export the history as monthly Parquet files",
		Args:  cobra.NoArgs,
		RunE:  runExportParquet,
	}
	exportCmd.Flags().StringVar(&parquetDir, "dir", "", "Output directory for Parquet files")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the ingest on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().StringVar(&cronSpec, "cron", "", "Cron spec with seconds (default schedule.cron)")
	scheduleCmd.Flags().BoolVar(&runOnStart, "run-now", false, "Ingest once before waiting for the schedule")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingest runs",
		Args:  cobra.NoArgs,
		RunE:  runRuns,
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum rows")

	rootCmd.AddCommand(fetchCmd, ingestCmd, backfillCmd, scanCmd, topCmd, showCmd, decodeCmd, exportCmd, scheduleCmd, runsCmd)
	return rootCmd
}

// loadConfig loads configuration from file and environment, then applies flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("error loading configuration: %w", err)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if storeBackend != "" {
		cfg.Store.Backend = storeBackend
	}
	if storeDir != "" {
		cfg.Store.LocalDir = storeDir
	}
	if driveFolderID != "" {
		cfg.Store.DriveFolderID = driveFolderID
		if storeBackend == "" {
			cfg.Store.Backend = "drive"
		}
	}
	if credentialsKey != "" {
		cfg.Store.CredentialsFile = credentialsKey
	}
	if candidatesFile != "" {
		cfg.Schema.CandidatesFile = candidatesFile
	}
	if sqlitePath != "" {
		cfg.Recorder.SQLitePath = sqlitePath
	}
	if lookback > 0 {
		cfg.NSE.LookbackDays = lookback
	}
	if requestWait > 0 {
		cfg.NSE.RequestDelay = requestWait
	}
	if cronSpec != "" {
		cfg.Schedule.Cron = cronSpec
	}
	if parquetDir != "" {
		cfg.History.ParquetDir = parquetDir
	}

	logger.Init(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigchan:
			slog.Info("received signal, initiating shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigchan)
	}()
	return ctx, cancel
}

func openStore(ctx context.Context, cfg *config.Config, readOnly bool) (blobstore.Store, error) {
	switch cfg.Store.Backend {
	case "drive":
		opts, err := auth.NewAuthManager(&cfg.Store).ClientOptions(ctx, readOnly)
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate drive store: %w", err)
		}
		return blobstore.NewDrive(ctx, cfg.Store.DriveFolderID, opts...)
	default:
		return blobstore.NewLocal(nil, cfg.Store.LocalDir)
	}
}

func openRecorder(cfg *config.Config) (recorder.Recorder, error) {
	if cfg.Recorder.SQLitePath == "" {
		return recorder.NewNoopRecorder(), nil
	}
	return recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath)
}

type session struct {
	cfg     config.Config
	svc     *app.Service
	fetcher *nse.Client
	rec     recorder.Recorder
}

func (s *session) Close() {
	if err := s.rec.Close(); err != nil {
		slog.Warn("failed to close recorder", "error", err)
	}
}

// newSession wires the service for one command.
func newSession(ctx context.Context, cfg config.Config, readOnly bool, gen genai.Generator) (*session, error) {
	store, err := openStore(ctx, &cfg, readOnly)
	if err != nil {
		return nil, err
	}
	rec, err := openRecorder(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	fetcher := nse.NewClient(&cfg.NSE)

	svc, err := app.NewService(&cfg, app.Deps{Store: store, Fetcher: fetcher, Generator: gen, Recorder: rec})
	if err != nil {
		rec.Close()
		return nil, err
	}
	slog.Debug("session ready", "store", store.Name())
	return &session{cfg: cfg, svc: svc, fetcher: fetcher, rec: rec}, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, cfg, false, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.svc.Fetch(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Published snapshot for %s: %d stocks\n", res.TradeDate.Format("2006-01-02"), res.Rows)
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, cfg, false, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.svc.Ingest(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %s: %d stocks (%d new, %d updated, %d unchanged), history holds %d records\n",
		res.TradeDate.Format("2006-01-02"), len(res.Normalized.Records),
		res.Merge.Inserted, res.Merge.Updated, res.Merge.Unchanged, res.Records)
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, cfg, false, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	to := s.fetcher.Today()
	if toDate != "" {
		if to, err = time.Parse("2006-01-02", toDate); err != nil {
			return fmt.Errorf("invalid --to date: %w", err)
		}
	}
	from := to.AddDate(-1, 0, 0)
	if fromDate != "" {
		if from, err = time.Parse("2006-01-02", fromDate); err != nil {
			return fmt.Errorf("invalid --from date: %w", err)
		}
	}

	slog.Info("starting backfill", "from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"))
	res, err := s.svc.Backfill(ctx, from, to)
	if res != nil {
		fmt.Printf("Backfill %s to %s: %d days fetched, %d without data, %d failed; %d new, %d updated; history holds %d records\n",
			from.Format("2006-01-02"), to.Format("2006-01-02"),
			len(res.Report.Fetched), len(res.Report.Missing), len(res.Report.Failed),
			res.Merge.Inserted, res.Merge.Updated, res.Records)
	}
	return err
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, cfg, true, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.svc.Scan(ctx)
	if err != nil {
		return err
	}
	return printScan(os.Stdout, res, bucketName, scanLimit)
}

func runTop(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, cfg, true, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	w := topWindow
	if w <= 0 {
		w = s.cfg.History.Window
	}
	lower, upper := decimalFlag(minPercent), decimalFlag(maxPercent)
	ranked, err := s.svc.Top(ctx, w, lower, upper)
	if err != nil {
		return err
	}
	printTop(os.Stdout, ranked, w, topLimit)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, cfg, true, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	w := showWindow
	if w <= 0 {
		w = s.cfg.History.Window
	}
	view, err := s.svc.Show(ctx, args[0], w)
	if errors.Is(err, app.ErrSymbolNotFound) {
		fmt.Printf("Ticker '%s' not found in the snapshot or history.\n", args[0])
		return nil
	}
	if err != nil {
		return err
	}
	printShow(os.Stdout, view)
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gen, err := genai.NewFallback(ctx, &cfg.GenAI)
	if err != nil {
		return fmt.Errorf("AI model is not connected, check the API key: %w", err)
	}

	s, err := newSession(ctx, cfg, true, gen)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.svc.Decode(ctx, args[0])
	if errors.Is(err, app.ErrSymbolNotFound) {
		fmt.Printf("Ticker '%s' not found in today's list.\n", args[0])
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n\n%s\n", c.Symbol, c.Model, c.Text)
	return nil
}

func runExportParquet(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, cfg, true, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	paths, err := s.svc.ExportParquet(ctx, s.cfg.History.ParquetDir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	slog.Info("parquet export finished", "files", len(paths), "dir", s.cfg.History.ParquetDir)
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(ctx, cfg, false, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ingest := scheduler.IngestFunc(func(ctx context.Context) error {
		res, err := s.svc.Ingest(ctx)
		if err != nil {
			return err
		}
		slog.Info("ingest finished", "date", res.TradeDate.Format("2006-01-02"),
			"inserted", res.Merge.Inserted, "updated", res.Merge.Updated, "records", res.Records)
		return nil
	})
	sched, err := scheduler.NewScheduler(ctx, ingest, s.cfg.Schedule.Timezone)
	if err != nil {
		return err
	}
	if err := sched.Register(s.cfg.Schedule.Cron); err != nil {
		return err
	}
	if runOnStart {
		sched.RunNow()
	}

	sched.Start()
	<-ctx.Done()
	sched.Stop()
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Recorder.SQLitePath == "" {
		return fmt.Errorf("run log is disabled; set recorder.sqlite_path or --sqlite")
	}
	ctx, cancel := signalContext()
	defer cancel()

	s, err := newSession(ctx, cfg, true, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.svc.Runs(runsLimit)
	if err != nil {
		return err
	}
	printRuns(os.Stdout, runs)
	return nil
}
