package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type eventKind int

const (
	eventStatus eventKind = iota
	eventProgress
	eventComplete
)

// event is one caller-visible notification. All of them travel through a single
// channel so the drain goroutine can call Hooks in production order.
type event struct {
	kind   eventKind
	item   WorkItem
	status Status
	sample ProgressSample
	eta    Estimate
	rec    ResultRecord
	// preflight marks completions decided before any worker started.
	preflight bool
}

// Engine runs one Transform over a BatchJob with a bounded worker pool.
type Engine struct {
	opts      Options
	logger    *slog.Logger
	transform Transform
	items     []WorkItem
	hooks     Hooks
	manifest  Manifest
	control   *Controller
	resolver  *Resolver
	now       func() time.Time
	poolSize  int
	pacing    time.Duration

	ctx        context.Context
	cancelFunc context.CancelFunc
	stopParent func() bool

	resolveOnce sync.Once
	resolution  Resolution
	resolveErr  error
	ran         atomic.Bool

	tracker    *Tracker
	aggregator *reportAggregator
	events     chan event
	abandon    chan struct{}

	// relocRoot is the directory whose layout moves into an alternate directory.
	relocRoot     string
	relocateMu    sync.Mutex
	relocateAsked bool
	lateDecision  Decision

	fatalOccurred atomic.Bool
}

// NewEngine validates the job and options and prepares an Engine. Cancelling ctx
// has the same effect as Engine.Cancel.
func NewEngine(ctx context.Context, job *BatchJob, transform Transform, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("%w: Logger implementation (slog.Handler) cannot be nil", ErrConfigValidation)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: batch job cannot be nil", ErrConfigValidation)
	}
	if transform == nil {
		return nil, fmt.Errorf("%w: transform cannot be nil", ErrConfigValidation)
	}
	if opts.EventHooks == nil {
		opts.EventHooks = &NoOpHooks{}
	}
	if opts.Manifest == nil {
		opts.Manifest = &NoOpManifest{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnConflict == "" {
		opts.OnConflict = DefaultConflictPolicy
	}
	switch opts.OnConflict {
	case PolicyAsk:
		if opts.Decider == nil {
			return nil, fmt.Errorf("%w: onConflict '%s' requires a Decider", ErrConfigValidation, PolicyAsk)
		}
	case PolicyOverwrite, PolicySkip, PolicyAbort:
	default:
		return nil, fmt.Errorf("%w: invalid onConflict value '%s'", ErrConfigValidation, opts.OnConflict)
	}

	logger := slog.New(opts.Logger).With(slog.String("component", "engine"))

	items := make([]WorkItem, len(job.Items))
	for i, it := range job.Items {
		it.ID = i
		it.Status = StatusPending
		it.SkipReason = ""
		if it.Output == "" && job.Rule != nil {
			out, err := job.Rule.OutputFor(i, it.Source)
			if err != nil {
				return nil, fmt.Errorf("%w: output for '%s': %w", ErrConfigValidation, it.Source, err)
			}
			it.Output = out
		}
		if it.Source == "" || it.Output == "" {
			return nil, fmt.Errorf("%w: item %d has an empty source or output path", ErrConfigValidation, i)
		}
		items[i] = it
	}

	configured := opts.Concurrency
	if job.Concurrency > 0 {
		configured = job.Concurrency
	}
	pacing := opts.Pacing
	if job.Pacing > 0 {
		pacing = job.Pacing
	}
	if pacing < 0 {
		return nil, fmt.Errorf("%w: pacing cannot be negative", ErrConfigValidation)
	}
	hint := opts.HardwareHint
	if hint <= 0 {
		hint = runtime.NumCPU()
	}
	poolSize := poolSizeFor(configured, hint, len(items))
	opts.Concurrency = poolSize
	logger.Debug("Worker pool sized", "configured", configured, "hint", hint, "items", len(items), "pool", poolSize)

	control := opts.Controller
	if control == nil {
		control = NewController(opts.WatchdogTimeout, opts.Now)
	}

	engineCtx, cancelFunc := context.WithCancel(ctx)
	control.bindCancel(cancelFunc)
	stop := context.AfterFunc(ctx, control.Cancel)

	return &Engine{
		opts:       opts,
		logger:     logger,
		transform:  transform,
		items:      items,
		hooks:      opts.EventHooks,
		manifest:   opts.Manifest,
		control:    control,
		resolver:   NewResolver(opts.OnConflict, opts.Decider, opts.Probe, opts.MaxDirectoryAttempts, opts.Logger),
		relocRoot:  CommonDir(outputsOf(items)),
		now:        opts.Now,
		poolSize:   poolSize,
		pacing:     pacing,
		ctx:        engineCtx,
		cancelFunc: cancelFunc,
		stopParent: stop,
		abandon:    make(chan struct{}),
	}, nil
}

// poolSizeFor returns min(configured, hint, items), at least 1. A configured
// value of zero defers to the hint.
func poolSizeFor(configured, hint, items int) int {
	n := hint
	if configured > 0 && configured < n {
		n = configured
	}
	if items < n {
		n = items
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Controller exposes the run's pause and cancel controls.
func (e *Engine) Controller() *Controller { return e.control }

// Pause pauses the run at the workers' next progress callback.
func (e *Engine) Pause() bool { return e.control.Pause() }

// Resume resumes a paused run.
func (e *Engine) Resume() bool {
	_, ok := e.control.Resume()
	return ok
}

// Cancel requests cancellation of the run.
func (e *Engine) Cancel() { e.control.Cancel() }

// PoolSize returns the number of workers the run uses.
func (e *Engine) PoolSize() int { return e.poolSize }

// Resolve runs the pre-flight conflict check. It is called by Run when the
// caller has not done so, and may be called earlier so an interactive Decider
// can prompt before any progress display starts. The result is computed once.
func (e *Engine) Resolve() (Resolution, error) {
	e.resolveOnce.Do(func() {
		e.resolution, e.resolveErr = e.resolver.Resolve(e.items)
	})
	return e.resolution, e.resolveErr
}

// Run executes the job and returns the report. An Engine runs once.
//
// Item failures never fail the run; they are recorded in the report. The
// returned error is non-nil when the pre-flight check aborted the run (no file
// was touched and no worker started) or when a critical error stopped it.
func (e *Engine) Run() (Report, error) {
	if !e.ran.CompareAndSwap(false, true) {
		return Report{}, fmt.Errorf("%w: engine has already run", ErrConfigValidation)
	}
	defer e.cancelFunc()
	defer e.stopParent()

	runID := uuid.NewString()
	startTime := e.now()
	e.logger.Info("Starting batch run",
		slog.String("runId", runID),
		slog.String("operation", e.operation()),
		slog.Int("items", len(e.items)),
		slog.Int("concurrency", e.poolSize),
		slog.Duration("pacing", e.pacing),
	)

	res, err := e.Resolve()
	if err != nil {
		e.logger.Warn("Run aborted during pre-flight check", slog.String("error", err.Error()))
		return Report{}, err
	}
	if res.AlternateDir != "" {
		e.control.SetAlternateDir(res.AlternateDir)
	}

	items := res.Items
	for i := range items {
		if items[i].Status == StatusPending && e.manifest.Check(items[i]) {
			items[i].Status = StatusSkipped
			items[i].SkipReason = SkipReasonUnchanged
		}
	}

	pending := make([]WorkItem, len(items))
	for i, it := range items {
		it.Status = StatusPending
		it.SkipReason = ""
		pending[i] = it
	}
	e.aggregator = newReportAggregator(pending)
	e.tracker = NewTracker(len(items), e.control, e.now)
	e.events = make(chan event, eventBufferSize*e.poolSize)

	drainDone := make(chan struct{})
	go e.drain(drainDone)

	queue := make(chan WorkItem, len(items))
	for _, it := range items {
		if it.Status == StatusSkipped {
			e.logger.Debug("Item skipped before processing", "source", it.Source, "reason", it.SkipReason)
			e.emit(event{kind: eventComplete, preflight: true, rec: ResultRecord{
				ItemID:     it.ID,
				Source:     it.Source,
				Output:     it.Output,
				Status:     StatusSkipped,
				Class:      ClassSkip,
				SkipReason: it.SkipReason,
			}})
			continue
		}
		queue <- it
	}
	close(queue)

	var wg sync.WaitGroup
	p := newPacer(e.poolSize, e.pacing)
	e.logger.Debug("Starting worker pool", "count", e.poolSize)
	for i := 0; i < e.poolSize; i++ {
		wg.Add(1)
		go e.worker(&wg, i, queue, p)
	}
	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	abandoned := false
	select {
	case <-workersDone:
	case <-e.control.WatchdogExpired():
		select {
		case <-workersDone:
		default:
			abandoned = true
		}
	}

	if abandoned {
		e.logger.Warn("Watchdog expired, abandoning in-flight items", slog.Duration("timeout", e.control.watchdog))
		close(e.abandon)
	} else {
		close(e.events)
	}
	<-drainDone

	e.aggregator.finalize()
	e.control.acknowledge()

	meta := reportMeta{
		runID:       runID,
		operation:   e.operation(),
		concurrency: e.poolSize,
		altDir:      e.control.AlternateDir(),
		started:     startTime,
		finished:    e.now(),
		paused:      e.control.TotalPaused(),
		fatal:       e.fatalOccurred.Load(),
		cancelled:   e.control.Cancelled(),
	}
	report := e.aggregator.getReport(meta)

	var finalErr error
	if e.opts.ManifestPath != "" {
		if persistErr := e.manifest.Persist(e.opts.ManifestPath); persistErr != nil {
			e.logger.Error("Failed to persist manifest", slog.String("path", e.opts.ManifestPath), slog.String("error", persistErr.Error()))
		}
	}
	if rec, ok := e.aggregator.fatalRecord(); ok {
		finalErr = fmt.Errorf("%w: item '%s': %s", ErrCritical, rec.Source, rec.Error)
	} else if meta.fatal {
		finalErr = fmt.Errorf("%w: processing stopped", ErrCritical)
	}

	e.logger.Info("Batch run finished",
		slog.Duration("duration", meta.finished.Sub(startTime)),
		slog.Int("succeeded", report.Summary.Succeeded),
		slog.Int("failed", report.Summary.Failed),
		slog.Int("skipped", report.Summary.Skipped),
		slog.Int("cancelled", report.Summary.Cancelled),
		slog.Bool("cancelRequested", report.Summary.CancelRequested),
		slog.Bool("fatalErrorOccurred", report.Summary.FatalErrorOccurred),
	)
	e.callHook("OnRunComplete", func() error { return e.hooks.OnRunComplete(report) })

	return report, finalErr
}

func (e *Engine) operation() string {
	if e.opts.Operation != "" {
		return e.opts.Operation
	}
	return e.transform.Name()
}

// worker pulls items until the queue is empty or the run stops scheduling.
func (e *Engine) worker(wg *sync.WaitGroup, workerID int, queue <-chan WorkItem, p *pacer) {
	defer wg.Done()
	wLogger := e.logger.With(slog.Int("workerID", workerID))
	wLogger.Debug("Worker started")

	for {
		item, ok := <-queue
		if !ok {
			wLogger.Debug("Worker shutting down (queue drained)")
			return
		}
		// Pacing holds the next item, so the last completion never waits.
		// Items pulled after cancellation stay pending and are recorded as cancelled.
		if err := p.wait(e.ctx); err != nil || e.ctx.Err() != nil {
			wLogger.Debug("Worker shutting down (context cancelled)")
			return
		}

		rec := e.processItem(wLogger, item)
		p.complete()
		e.emit(event{kind: eventComplete, rec: rec})

		if rec.Class == ClassCritical && e.fatalOccurred.CompareAndSwap(false, true) {
			wLogger.Error("Critical error, stopping the run", "source", rec.Source, "error", rec.Error)
			e.control.armWatchdog()
			e.cancelFunc()
		}
	}
}

func (e *Engine) processItem(logger *slog.Logger, item WorkItem) ResultRecord {
	var placeErr error
	if alt := e.control.AlternateDir(); alt != "" {
		_, placeErr = e.placeIn(&item, alt)
	}
	item.Status = StatusProcessing
	start := e.now()
	e.control.BeginItem(item.ID)
	e.tracker.StartItem(item.ID)
	e.emit(event{kind: eventStatus, item: item, status: StatusProcessing})
	logger.Debug("Processing item", "id", item.ID, "source", item.Source, "output", item.Output)

	var out Output
	err := placeErr
	if err == nil {
		out, err = e.invoke(item)
	}
	if err != nil && Classify(err) == ClassPermission {
		if alt, ok := e.relocate(item, err); ok {
			moved, moveErr := e.placeIn(&item, alt)
			switch {
			case moveErr != nil:
				err = moveErr
			case moved:
				logger.Info("Retrying item in alternate directory", "source", item.Source, "output", item.Output)
				e.emit(event{kind: eventStatus, item: item, status: StatusProcessing})
				out, err = e.invoke(item)
			}
		}
	}
	if err != nil && errors.Is(err, context.Canceled) && e.ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	paused := e.control.EndItem(item.ID)

	rec := ResultRecord{
		ItemID:     item.ID,
		Source:     item.Source,
		Output:     item.Output,
		DurationMs: (e.now().Sub(start) - paused).Milliseconds(),
	}
	if rec.DurationMs < 0 {
		rec.DurationMs = 0
	}
	rec.Class = Classify(err)
	switch rec.Class {
	case ClassNone:
		rec.Status = StatusSucceeded
		if out.Path != "" {
			rec.Output = out.Path
		}
		rec.OriginalSize = out.OriginalSize
		rec.ResultSize = out.ResultSize
		logger.Debug("Item succeeded", "source", item.Source, "output", rec.Output)
	case ClassSkip:
		rec.Status = StatusSkipped
		rec.SkipReason = SkipReason(err)
		logger.Info("Item skipped", "source", item.Source, "reason", rec.SkipReason)
	case ClassCancelled:
		rec.Status = StatusCancelled
		logger.Debug("Item cancelled", "source", item.Source)
	default:
		rec.Status = StatusFailed
		rec.Error = err.Error()
		logger.Warn("Item failed", "source", item.Source, "class", string(rec.Class), "error", rec.Error)
	}
	return rec
}

// invoke calls the transform, converting a panic into a critical error.
func (e *Engine) invoke(item WorkItem) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic recovered in transform", "source", item.Source, "panicValue", r)
			err = fmt.Errorf("%w: panic in %s: %v", ErrCritical, e.transform.Name(), r)
		}
	}()

	progress := func(unit, total int) error {
		paused := e.control.State() == StatePaused
		if paused {
			e.emit(event{kind: eventStatus, item: item, status: StatusPaused})
		}
		if err := e.control.Checkpoint(e.ctx); err != nil {
			return err
		}
		if paused {
			e.emit(event{kind: eventStatus, item: item, status: StatusProcessing})
		}
		sample, eta := e.tracker.Sample(item.ID, unit, total)
		e.emit(event{kind: eventProgress, item: item, sample: sample, eta: eta})
		return nil
	}
	return e.transform.Apply(e.ctx, item, progress)
}

// relocate asks the Decider for an alternate directory after a mid-run
// permission failure. The question is asked at most once per run; an
// accepted directory applies to every later item.
func (e *Engine) relocate(item WorkItem, cause error) (string, bool) {
	e.relocateMu.Lock()
	defer e.relocateMu.Unlock()
	dir := filepath.Dir(item.Output)
	if alt := e.control.AlternateDir(); alt != "" && alt != dir {
		return alt, true
	}
	if e.relocateAsked {
		return "", false
	}
	e.relocateAsked = true
	alt, err := e.resolver.ChooseAlternate(map[string]string{dir: cause.Error()})
	if err != nil {
		e.logger.Warn("No alternate directory for unwritable output", "dir", dir, "error", err.Error())
		return "", false
	}
	e.control.SetAlternateDir(alt)
	return alt, true
}

// placeIn moves item's output into dir. An output that already exists there
// gets the run's conflict decision: Skip skips the item and Abort fails it.
func (e *Engine) placeIn(item *WorkItem, dir string) (moved bool, err error) {
	target := Relocate(item.Output, e.relocRoot, dir)
	if target == item.Output {
		return false, nil
	}
	item.Output = target
	if _, statErr := os.Stat(target); statErr != nil {
		return true, nil
	}
	switch e.existingDecision(*item) {
	case DecisionSkip:
		return true, Skipf("%s", SkipReasonOutputExists)
	case DecisionAbort:
		return true, Itemf("output '%s' already exists in the alternate directory", target)
	}
	return true, nil
}

// existingDecision returns the run-wide answer for outputs that already exist.
// When the pre-flight check found none, the answer is made here, once. Without
// an answer the existing output is kept.
func (e *Engine) existingDecision(item WorkItem) Decision {
	e.relocateMu.Lock()
	defer e.relocateMu.Unlock()
	if e.resolution.Decision != "" {
		return e.resolution.Decision
	}
	if e.lateDecision == "" {
		d, err := e.resolver.decideExisting([]WorkItem{item}, []int{0})
		if err != nil {
			e.logger.Warn("No decision for an existing output, keeping it", "output", item.Output, "error", err.Error())
			d = DecisionSkip
		}
		e.lateDecision = d
	}
	return e.lateDecision
}

// emit hands an event to the drain goroutine. Once the run was abandoned by the
// watchdog, events are dropped.
func (e *Engine) emit(ev event) {
	select {
	case e.events <- ev:
	case <-e.abandon:
	}
}

// drain is the only goroutine that updates the aggregator and calls Hooks.
func (e *Engine) drain(done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			e.dispatch(ev)
		case <-e.abandon:
			return
		}
	}
}

func (e *Engine) dispatch(ev event) {
	switch ev.kind {
	case eventStatus:
		item, ok := e.aggregator.setStatus(ev.item.ID, ev.status, ev.item.Output)
		if !ok {
			e.logger.Debug("Dropped status change", "id", ev.item.ID, "status", string(ev.status))
			return
		}
		e.callHook("OnItemStatus", func() error { return e.hooks.OnItemStatus(item) })
	case eventProgress:
		item := e.aggregator.item(ev.item.ID)
		if item.Status.IsTerminal() {
			return
		}
		e.callHook("OnItemProgress", func() error { return e.hooks.OnItemProgress(item, ev.sample, ev.eta) })
	case eventComplete:
		item, ok := e.aggregator.addRecord(ev.rec)
		if !ok {
			e.logger.Debug("Dropped duplicate completion", "id", ev.rec.ItemID)
			return
		}
		if err := e.manifest.Update(ev.rec); err != nil {
			e.logger.Warn("Failed to update manifest", "source", ev.rec.Source, "error", err.Error())
		}
		finish := e.tracker.FinishItem
		if ev.preflight {
			finish = e.tracker.SkipItem
		}
		done, total, eta := finish(ev.rec.ItemID)
		e.callHook("OnItemComplete", func() error { return e.hooks.OnItemComplete(item, ev.rec) })
		e.callHook("OnRunProgress", func() error { return e.hooks.OnRunProgress(done, total, eta) })
	}
}

// callHook invokes a hook, logging returned errors and recovering panics so
// presentation code cannot take down the run.
func (e *Engine) callHook(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic recovered in hook", "hook", name, "panicValue", r)
		}
	}()
	if err := fn(); err != nil {
		e.logger.Warn("Hook returned an error", "hook", name, "error", err.Error())
	}
}
