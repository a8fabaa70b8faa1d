package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"profile2site/internal/browser"
	"profile2site/internal/checkpoint"
	"profile2site/internal/config"
	"profile2site/internal/extract"
	"profile2site/internal/metrics"
	"profile2site/internal/progress"
	"profile2site/internal/record"
	"profile2site/internal/report"
	"profile2site/internal/storage"
	"profile2site/internal/worker"
)

// State is the lifecycle of one run
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options selects how the snapshot is treated at startup
type Options struct {
	// Resume requires the snapshot to exist already.
	Resume bool
	// RetryFailed moves failed records back to pending before the run.
	RetryFailed bool
}

func (o Options) snapshotMode() SnapshotMode {
	if o.Resume {
		return SnapshotRequire
	}
	return SnapshotCreate
}

// Summary describes a finished run
type Summary struct {
	State      State
	Drained    bool
	Dispatched int
	Settled    int
	Counts     record.Counts
	Duration   time.Duration
	ReportPath string
	// PublishedKey is set when the report was uploaded.
	PublishedKey string
}

// Controller runs pending records through the worker pool and persists every outcome
type Controller struct {
	cfg       *config.Config
	logger    *zap.Logger
	browser   browser.Browser
	store     *record.Store
	snapshot  checkpoint.Store
	metrics   *metrics.Collector
	workers   *worker.Pool
	publisher *storage.Publisher

	state    atomic.Int32
	halt     chan struct{}
	haltOnce sync.Once
	errMu    sync.Mutex
	abortErr error
}

// Launcher starts the browser a run drives.
type Launcher func(ctx context.Context) (browser.Browser, error)

// Prepare loads the input and snapshot, then launches the browser and builds the
// controller. Input and snapshot errors are reported before any browser is started.
// The caller closes the returned browser.
func Prepare(ctx context.Context, cfg *config.Config, launch Launcher, opts Options, logger *zap.Logger) (*Controller, browser.Browser, error) {
	loaded, err := Load(ctx, cfg, opts.snapshotMode(), logger)
	if err != nil {
		return nil, nil, err
	}

	b, err := launch(ctx)
	if err != nil {
		loaded.Snapshot.Close()
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	c, err := NewFromLoaded(cfg, loaded, b, opts, logger)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return c, b, nil
}

// New loads the input and snapshot and prepares a run on b. The caller owns b.
func New(ctx context.Context, cfg *config.Config, b browser.Browser, opts Options, logger *zap.Logger) (*Controller, error) {
	loaded, err := Load(ctx, cfg, opts.snapshotMode(), logger)
	if err != nil {
		return nil, err
	}
	return NewFromLoaded(cfg, loaded, b, opts, logger)
}

// NewFromLoaded prepares a run over an already loaded record set. The controller takes
// over loaded.Snapshot.
func NewFromLoaded(cfg *config.Config, loaded *Loaded, b browser.Browser, opts Options, logger *zap.Logger) (*Controller, error) {
	if opts.RetryFailed {
		n := loaded.Store.ResetFailed()
		logger.Info("Reset failed records to pending", zap.Int("records", n))
	}

	metricsCollector := metrics.New()

	workerPool := worker.NewPool(cfg.Workers, WorkerConfig(cfg), b, metricsCollector, logger)

	var publisher *storage.Publisher
	if cfg.Publish.Enabled() {
		client, err := storage.NewMinIOClient(storage.Config{
			Endpoint:  cfg.Publish.Endpoint,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Secure:    cfg.Publish.Secure,
		})
		if err != nil {
			loaded.Snapshot.Close()
			return nil, fmt.Errorf("failed to create publish client: %w", err)
		}
		publisher = storage.NewPublisher(client, cfg.Publish.Bucket, cfg.Publish.Key, logger)
	}

	return &Controller{
		cfg:       cfg,
		logger:    logger,
		browser:   b,
		store:     loaded.Store,
		snapshot:  loaded.Snapshot,
		metrics:   metricsCollector,
		workers:   workerPool,
		publisher: publisher,
		halt:      make(chan struct{}),
	}, nil
}

// WorkerConfig maps the configuration onto the worker pool's settings.
func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Extract:     ExtractOptions(cfg),
		PaceRecords: cfg.PaceRecords,
		SleepMin:    cfg.SleepMin,
		SleepMax:    cfg.SleepMax,
		Limiter:     worker.NewLimiter(cfg.RatePerMinute),
	}
}

// BrowserOptions maps the configuration onto the driver launch settings.
func BrowserOptions(cfg *config.Config) browser.Options {
	return browser.Options{
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		ExecPath:          cfg.Browser.ExecPath,
		WindowWidth:       cfg.Browser.WindowWidth,
		WindowHeight:      cfg.Browser.WindowHeight,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
	}
}

// ExtractOptions maps the configuration onto the extractor's settings.
func ExtractOptions(cfg *config.Config) extract.Options {
	return extract.Options{
		MaxRetries:      cfg.MaxRetries,
		SleepMin:        cfg.SleepMin,
		SleepMax:        cfg.SleepMax,
		WaitTimeout:     cfg.Extract.WaitTimeout,
		SelectorTimeout: cfg.Extract.SelectorTimeout,
		ChallengeWait:   cfg.Extract.ChallengeWait,
		Selectors:       cfg.Extract.Selectors,
		RedirectMarker:  cfg.Extract.RedirectMarker,
		RedirectParam:   cfg.Extract.RedirectParam,
		DomainOnly:      cfg.Extract.DomainOnly,
	}
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Store exposes the record set
func (c *Controller) Store() *record.Store {
	return c.store
}

// Metrics exposes the run's collector
func (c *Controller) Metrics() *metrics.Collector {
	return c.metrics
}

// Stop asks a running controller to drain: in-flight records finish and are persisted but
// nothing new is dispatched. Calls after the first have no effect.
func (c *Controller) Stop() {
	if c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		c.logger.Info("Stop requested, draining in-flight records")
		c.closeHalt()
	}
}

func (c *Controller) closeHalt() {
	c.haltOnce.Do(func() { close(c.halt) })
}

func (c *Controller) abort(err error) {
	c.errMu.Lock()
	if c.abortErr == nil {
		c.abortErr = err
	}
	c.errMu.Unlock()

	c.state.Store(int32(StateAborted))
	c.closeHalt()
}

// Run processes every pending record. Cancelling ctx is a hard stop: in-flight records stay
// pending. A snapshot write failure aborts the run with a PersistenceError.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Summary{}, errors.New("controller already ran")
	}
	startTime := time.Now()

	counts := c.store.Counts()
	settledBefore := counts.Resolved + counts.Failed
	c.metrics.SetTotalCounts(int64(counts.Total), int64(settledBefore))
	c.metrics.IncSkipped(settledBefore)

	c.logger.Info("Starting run",
		zap.Int("total", counts.Total),
		zap.Int("pending", counts.Pending),
		zap.Int("already_settled", settledBefore),
		zap.Int("workers", c.cfg.Workers),
		zap.Int("max_retries", c.cfg.MaxRetries),
	)

	if c.cfg.MetricsAddr != "" {
		go func() {
			if err := c.metrics.StartServer(ctx, c.cfg.MetricsAddr); err != nil {
				c.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	var progressDisplay *progress.Display
	if c.cfg.ShowProgress && counts.Pending > 0 && progress.IsTerminalSupported() {
		progressDisplay = progress.NewDisplay(c.metrics.GetProgressTracker(), 5*time.Second)
		progressDisplay.Start()
		c.logger.Info("Progress display enabled")
	}

	tasks := make(chan worker.Task)
	results := make(chan worker.Result, c.cfg.Workers)

	var wg sync.WaitGroup
	if counts.Pending > 0 {
		if err := c.workers.Start(ctx, tasks, results, &wg); err != nil {
			if progressDisplay != nil {
				progressDisplay.Stop()
			}
			c.state.Store(int32(StateAborted))
			return Summary{State: StateAborted}, fmt.Errorf("failed to start workers: %w", err)
		}
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make(chan int, 1)
	go func() {
		collected <- c.collect(ctx, results)
	}()

	dispatcher := &RecordDispatcher{store: c.store, logger: c.logger}
	dispatched, dispatchErr := dispatcher.Enqueue(ctx, c.halt, tasks)
	close(tasks)
	settled := <-collected

	if progressDisplay != nil {
		progressDisplay.Stop()
	}

	summary := Summary{
		Dispatched: dispatched,
		Settled:    settled,
		Counts:     c.store.Counts(),
		ReportPath: c.cfg.OutputPath,
	}

	if err := c.abortError(); err != nil {
		summary.State = StateAborted
		summary.Duration = time.Since(startTime)
		c.logSummary(summary)
		return summary, err
	}

	summary.Drained = c.State() == StateDraining
	c.state.Store(int32(StateDone))
	summary.State = StateDone

	if err := report.Write(c.cfg.OutputPath, c.store.Records()); err != nil {
		summary.Duration = time.Since(startTime)
		return summary, err
	}
	c.logger.Info("Wrote report", zap.String("path", c.cfg.OutputPath))

	if dispatchErr == nil && ctx.Err() == nil && c.publisher != nil {
		key, err := c.publisher.Publish(ctx, c.cfg.OutputPath, map[string]int{
			"resolved": summary.Counts.Resolved,
			"failed":   summary.Counts.Failed,
			"pending":  summary.Counts.Pending,
		})
		if err != nil {
			summary.Duration = time.Since(startTime)
			return summary, fmt.Errorf("failed to publish report: %w", err)
		}
		summary.PublishedKey = key
	}

	summary.Duration = time.Since(startTime)
	c.logSummary(summary)

	if dispatchErr != nil {
		return summary, dispatchErr
	}
	return summary, ctx.Err()
}

func (c *Controller) abortError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.abortErr
}

// collect settles results until the pool closes the channel and returns how many records
// it persisted. After a persistence failure results are drained but no longer written.
func (c *Controller) collect(ctx context.Context, results <-chan worker.Result) int {
	// Appends outlive a hard stop so records finishing during it are kept.
	writeCtx := context.WithoutCancel(ctx)

	var settled int
	for res := range results {
		if c.abortError() != nil {
			continue
		}
		ok, err := c.settle(writeCtx, ctx, res)
		if err != nil {
			c.logger.Error("Failed to persist outcome, aborting run",
				zap.String("identifier", res.Record.ID),
				zap.Error(err),
			)
			c.abort(err)
			continue
		}
		if ok {
			settled++
		}
	}
	return settled
}

// settle routes one result to the record store and, when the store accepts the
// transition, to the snapshot.
func (c *Controller) settle(writeCtx, runCtx context.Context, res worker.Result) (bool, error) {
	rec := res.Record
	logger := c.logger.With(zap.String("identifier", rec.ID), zap.Int("worker_id", res.WorkerID))

	if res.Err != nil && runCtx.Err() != nil && isCancellation(res.Err) {
		logger.Info("Record interrupted, left pending")
		return false, nil
	}

	entry := checkpoint.Entry{ID: rec.ID, Attempts: res.Attempts, RecordedAt: time.Now().UTC()}

	if res.Err == nil {
		if !c.store.MarkResolved(rec.ID, res.Value, res.Attempts) {
			return false, nil
		}
		entry.Result = res.Value
		entry.Status = record.StatusResolved
	} else {
		var invalid *extract.InvalidTargetError
		if errors.As(res.Err, &invalid) {
			entry.Attempts = 0
		}
		if !c.store.MarkFailed(rec.ID, entry.Attempts) {
			return false, nil
		}
		entry.Status = record.StatusFailed
		entry.LastError = res.Err.Error()
	}

	if err := c.snapshot.Append(writeCtx, entry); err != nil {
		return false, err
	}

	if entry.Status == record.StatusResolved {
		c.metrics.IncResolved()
		logger.Info("Record resolved",
			zap.String("result", entry.Result),
			zap.Int("attempts", entry.Attempts),
			zap.Duration("duration", res.Duration),
		)
	} else {
		c.metrics.IncFailed()
		logger.Warn("Record failed",
			zap.Int("attempts", entry.Attempts),
			zap.Error(res.Err),
		)
	}
	return true, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Controller) logSummary(s Summary) {
	c.logger.Info("Run finished",
		zap.Stringer("state", s.State),
		zap.Bool("drained", s.Drained),
		zap.Int("dispatched", s.Dispatched),
		zap.Int("settled", s.Settled),
		zap.Int("resolved", s.Counts.Resolved),
		zap.Int("failed", s.Counts.Failed),
		zap.Int("pending", s.Counts.Pending),
		zap.Duration("duration", s.Duration),
	)
}

// Close releases the snapshot
func (c *Controller) Close() error {
	if c.snapshot != nil {
		return c.snapshot.Close()
	}
	return nil
}
