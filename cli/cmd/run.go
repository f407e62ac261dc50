package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/packetline/adapter"
	"github.com/pithecene-io/packetline/cli/config"
	"github.com/pithecene-io/packetline/cli/render"
	"github.com/pithecene-io/packetline/cli/tui"
	"github.com/pithecene-io/packetline/dlq"
	"github.com/pithecene-io/packetline/iox"
	"github.com/pithecene-io/packetline/ipc"
	"github.com/pithecene-io/packetline/log"
	"github.com/pithecene-io/packetline/metrics"
	"github.com/pithecene-io/packetline/pipeline"
	"github.com/pithecene-io/packetline/sink"
)

// Exit codes of the run command.
const (
	exitSuccess     = 0
	exitRunError    = 1
	exitConfigError = 2
	// exitDataLoss means packets ended the run without being stored:
	// discarded after retries, evicted, or still dead-lettered.
	exitDataLoss = 3
)

// shutdownTimeout bounds the final drain, retry pass and shutdown.
const shutdownTimeout = 30 * time.Second

// RunCommand returns the run command.
// It replays a capture stream through the pipeline.
func RunCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "Capture stream file, or - for stdin",
			Value:   iox.Stdio,
		},
		&cli.Float64Flag{
			Name:  "rate",
			Usage: "Replay pace in packets per second (0: unpaced)",
		},
		&cli.IntFlag{
			Name:  "burst",
			Usage: "Replay burst size when --rate is set",
			Value: 1,
		},
		&cli.DurationFlag{
			Name:  "report-interval",
			Usage: "Snapshot report interval (0 disables periodic reports)",
			Value: pipeline.DefaultReportInterval,
		},
		&cli.DurationFlag{
			Name:  "retry-interval",
			Usage: "Background dead-letter retry interval (0 disables)",
		},
		&cli.BoolFlag{
			Name:  "retry",
			Usage: "Run one dead-letter retry pass after the stream ends",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address (e.g. :9090)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write logs to this file instead of stderr",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress the run summary",
		},
		TUIFlag,
		FormatFlag,
	}
	flags = append(flags, storageFlags()...)
	flags = append(flags, adapterFlags()...)

	return &cli.Command{
		Name:   "run",
		Usage:  "Replay a capture stream through the pipeline",
		Flags:  flags,
		Action: runAction,
	}
}

// runOptions are the resolved settings of one run.
type runOptions struct {
	input       string
	pipeline    pipeline.Config
	sink        sink.Config
	adapter     adapterChoice
	metricsAddr string
	rate        float64
	burst       int
	retry       bool
	logLevel    zapcore.Level
}

// resolveRunOptions applies flags over cfg over defaults. cfg may be nil.
func resolveRunOptions(c *cli.Context, cfg *config.Config) (runOptions, error) {
	opts := runOptions{
		input:    c.String("input"),
		pipeline: pipeline.DefaultConfig(),
		retry:    c.Bool("retry"),
		burst:    c.Int("burst"),
	}
	if cfg != nil {
		opts.pipeline = cfg.Pipeline()
	}
	if c.IsSet("report-interval") {
		opts.pipeline.ReportInterval = c.Duration("report-interval")
	}
	if c.IsSet("retry-interval") {
		opts.pipeline.RetryInterval = c.Duration("retry-interval")
	}
	if err := opts.pipeline.Validate(); err != nil {
		return runOptions{}, err
	}

	opts.sink = sinkConfigWithPrecedence(c, cfg)
	if !opts.sink.Backend.Valid() {
		return runOptions{}, fmt.Errorf("unknown storage backend %q (must be one of %v)", opts.sink.Backend, sink.Backends())
	}

	adapterCfg, err := parseAdapterConfigWithPrecedence(c, cfg)
	if err != nil {
		return runOptions{}, err
	}
	opts.adapter = adapterCfg

	opts.metricsAddr = resolveString(c, "metrics-addr", configVal(cfg, func(c *config.Config) string { return c.MetricsAddr }))
	opts.rate = resolveFloat(c, "rate", configVal(cfg, func(c *config.Config) float64 { return c.Rate }))
	if opts.rate < 0 {
		return runOptions{}, fmt.Errorf("--rate must not be negative, got %v", opts.rate)
	}
	if opts.burst < 1 {
		return runOptions{}, fmt.Errorf("--burst must be at least 1, got %d", opts.burst)
	}

	level, err := log.ParseLevel(resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.LogLevel })))
	if err != nil {
		return runOptions{}, err
	}
	opts.logLevel = level
	return opts, nil
}

// sinkConfigWithPrecedence resolves the storage flags over cfg.
func sinkConfigWithPrecedence(c *cli.Context, cfg *config.Config) sink.Config {
	var fromFile sink.Config
	if cfg != nil {
		fromFile = cfg.Sink()
	}
	return sink.Config{
		Backend:     sink.Backend(resolveString(c, "storage-backend", string(fromFile.Backend))),
		Path:        resolveString(c, "storage-path", fromFile.Path),
		Dataset:     resolveString(c, "storage-dataset", fromFile.Dataset),
		Region:      resolveString(c, "storage-region", fromFile.Region),
		Endpoint:    resolveString(c, "storage-endpoint", fromFile.Endpoint),
		S3PathStyle: resolveBool(c, "storage-s3-path-style", fromFile.S3PathStyle),
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}
	opts, err := resolveRunOptions(c, cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid run config: %v", err), exitConfigError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	in, err := iox.OpenInput(opts.input)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open input: %v", err), exitRunError)
	}
	defer iox.DiscardClose(in)

	logOut := io.Writer(os.Stderr)
	if path := c.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return cli.Exit(fmt.Sprintf("open log file: %v", err), exitConfigError)
		}
		defer iox.DiscardClose(f)
		logOut = f
	} else if c.Bool("tui") {
		// The TUI owns the terminal.
		logOut = io.Discard
	}
	logger := log.New(logOut, opts.logLevel, "packetline")
	defer iox.DiscardErr(logger.Sync)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var summary runSummary
	var runErr error
	if c.Bool("tui") {
		summary, runErr = runWithTUI(ctx, opts, in, logger)
		if errors.Is(runErr, tui.ErrQuit) {
			runErr = nil
		}
	} else {
		summary, runErr = executeRun(ctx, opts, in, logger, nil)
	}

	if !c.Bool("quiet") {
		if err := r.Render(summary); err != nil {
			return err
		}
	}
	if runErr != nil {
		return cli.Exit(fmt.Sprintf("run failed: %v", runErr), exitRunError)
	}
	if code := summary.exitCode(); code != exitSuccess {
		return cli.Exit("", code)
	}
	return nil
}

// runWithTUI runs the pipeline while a live view renders its reports.
// Quitting the view cancels the run.
func runWithTUI(ctx context.Context, opts runOptions, in io.Reader, logger *log.Logger) (runSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var teaOpts []tea.ProgramOption
	if opts.input == "" || opts.input == iox.Stdio {
		// Keys come from the terminal while stdin carries the stream.
		teaOpts = append(teaOpts, tea.WithInputTTY())
	}
	prog := tui.NewProgram(teaOpts...)
	viewErr := make(chan error, 1)
	go func() {
		viewErr <- prog.Run()
		cancel()
	}()

	summary, err := executeRun(ctx, opts, in, logger, prog.Notifier())
	prog.Finish(err)
	vErr := <-viewErr
	switch {
	case errors.Is(vErr, tui.ErrQuit) && errors.Is(err, context.Canceled):
		return summary, tui.ErrQuit
	case vErr != nil && !errors.Is(vErr, tui.ErrQuit):
		return summary, errors.Join(err, vErr)
	}
	return summary, err
}

// executeRun wires storage, the notifier and the pipeline, replays in and
// drains. extra, when set, receives every report next to the configured
// adapter. The summary is filled as far as the run got.
func executeRun(ctx context.Context, opts runOptions, in io.Reader, logger *log.Logger, extra adapter.Notifier) (runSummary, error) {
	summary := runSummary{Input: opts.input}
	start := time.Now()

	store, err := sink.Open(ctx, opts.sink)
	if err != nil {
		return summary, err
	}
	notifier, err := buildNotifier(opts.adapter)
	if err != nil {
		iox.DiscardClose(store)
		return summary, err
	}
	switch {
	case notifier == nil:
		notifier = extra
	case extra != nil:
		notifier = adapter.Multi{notifier, extra}
	}

	collector := metrics.NewCollector(string(opts.sink.Backend), opts.adapter.typ)
	coord, err := pipeline.New(opts.pipeline, pipeline.Deps{
		Sink:      store,
		Notifier:  notifier,
		Logger:    logger,
		Collector: collector,
	})
	if err != nil {
		iox.DiscardErr(func() error { return iox.CloseAll(store, notifier) })
		return summary, err
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return coord.Run(gctx) })
	if opts.metricsAddr != "" {
		reg, err := metrics.NewRegistry(metrics.NewExporter(collector, coord))
		if err != nil {
			stopRun()
			iox.DiscardErr(g.Wait)
			iox.DiscardErr(func() error { return coord.Shutdown(context.Background()) })
			return summary, err
		}
		g.Go(func() error {
			logger.Info("serving metrics", map[string]any{"addr": opts.metricsAddr})
			return metrics.Serve(gctx, opts.metricsAddr, reg)
		})
	}

	var readerOpts []ipc.ReaderOption
	if opts.rate > 0 {
		readerOpts = append(readerOpts, ipc.WithRate(opts.rate, opts.burst))
	}
	count, consumeErr := coord.Consume(gctx, ipc.NewReader(in, readerOpts...))
	summary.Packets = count

	// Drain even when ctx was canceled.
	finishCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if consumeErr != nil {
		errs = append(errs, consumeErr)
	}
	if err := coord.Drain(finishCtx); err != nil {
		errs = append(errs, err)
	}
	if opts.retry {
		report := coord.RetryDeadLetters(finishCtx)
		summary.Retry = &report
	}

	stopRun()
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	snap, err := coord.Report()
	if err != nil {
		errs = append(errs, err)
	}
	summary.Report = snap
	summary.Failures = coord.AnalyzeFailures()
	if stored, err := coord.StoredSummary(finishCtx); err == nil {
		summary.Stored = &stored
	} else {
		logger.Warn("stored summary unavailable", map[string]any{"error": err.Error()})
	}

	if err := coord.Shutdown(finishCtx); err != nil {
		errs = append(errs, err)
	}
	summary.Elapsed = time.Since(start).Round(time.Millisecond).String()
	summary.Report.DeadLetters = coord.DeadLetterStats()

	if consumeErr != nil {
		summary.Error = consumeErr.Error()
	}
	return summary, errors.Join(errs...)
}

// runSummary is the output of packetline run.
type runSummary struct {
	Input    string           `json:"input" yaml:"input"`
	Packets  int              `json:"packets" yaml:"packets"`
	Elapsed  string           `json:"elapsed" yaml:"elapsed"`
	Report   adapter.Snapshot `json:"report" yaml:"report"`
	Failures dlq.Analysis     `json:"failures" yaml:"failures"`
	Retry    *dlq.RetryReport `json:"retry,omitempty" yaml:"retry,omitempty"`
	Stored   *sink.Summary    `json:"stored,omitempty" yaml:"stored,omitempty"`
	Error    string           `json:"error,omitempty" yaml:"error,omitempty"`
}

func (s runSummary) exitCode() int {
	dl := s.Report.DeadLetters
	if dl.Size > 0 || dl.Discarded > 0 || dl.Evicted > 0 {
		return exitDataLoss
	}
	return exitSuccess
}

// Header implements render.Table.
func (s runSummary) Header() []string {
	return []string{"FIELD", "VALUE"}
}

// Rows implements render.Table.
func (s runSummary) Rows() [][]string {
	c := s.Report.Counters
	dl := s.Report.DeadLetters
	br := s.Report.Breaker
	rows := [][]string{
		{"input", s.Input},
		{"packets", fmt.Sprint(s.Packets)},
		{"elapsed", s.Elapsed},
		{"ingested", fmt.Sprint(c.PacketsIngested)},
		{"skipped", fmt.Sprint(c.PacketsSkipped)},
		{"parse failures", fmt.Sprint(c.ParseFailures)},
		{"records stored", fmt.Sprint(c.RecordsStored)},
		{"storage failures", fmt.Sprint(c.StorageWriteFailure)},
		{"breaker", fmt.Sprintf("%s (%d rejected, opened %d times)", br.State, br.Rejected, br.Opened)},
		{"dead letters", fmt.Sprintf("%d held, %d discarded, %d evicted", dl.Size, dl.Discarded, dl.Evicted)},
	}
	if s.Retry != nil {
		rows = append(rows, []string{"retry", fmt.Sprintf("%d attempted, %d recovered, %d requeued, %d discarded",
			s.Retry.Attempted, s.Retry.Recovered, s.Retry.Requeued, s.Retry.Discarded)})
	}
	names := make([]string, 0, len(c.PacketsDetected))
	for name := range c.PacketsDetected {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{"detected " + name, fmt.Sprint(c.PacketsDetected[name])})
	}
	if s.Stored != nil {
		rows = append(rows, []string{"stored in " + s.Stored.Backend, fmt.Sprint(s.Stored.Total)})
	}
	if s.Error != "" {
		rows = append(rows, []string{"error", s.Error})
	}
	return rows
}
