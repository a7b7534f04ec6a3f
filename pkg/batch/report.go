package batch

import (
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Report summarizes the result of a single Engine run.
type Report struct {
	Summary Summary        `json:"summary"`
	Records []ResultRecord `json:"records"`
	// Outputs maps the input of every successful item to its output, in job order.
	Outputs []PathMapping `json:"outputs"`
}

// Summary contains aggregated statistics for a run. The counts are exact even
// when a display lists only a capped subset of entries.
type Summary struct {
	RunID              string    `json:"runId"`
	Operation          string    `json:"operation"`
	Total              int       `json:"total"`
	Processed          int       `json:"processed"` // succeeded + failed
	Succeeded          int       `json:"succeeded"`
	Failed             int       `json:"failed"`
	Skipped            int       `json:"skipped"`
	Cancelled          int       `json:"cancelled"`
	OriginalBytes      int64     `json:"originalBytes"`
	ResultBytes        int64     `json:"resultBytes"`
	SizesReported      int       `json:"sizesReported"`
	ReductionPercent   float64   `json:"reductionPercent"`
	DurationSeconds    float64   `json:"durationSeconds"`
	PausedSeconds      float64   `json:"pausedSeconds"`
	Concurrency        int       `json:"concurrency"`
	AlternateDir       string    `json:"alternateDir,omitempty"`
	FatalErrorOccurred bool      `json:"fatalError"`
	CancelRequested    bool      `json:"cancelRequested"`
	Timestamp          time.Time `json:"timestamp"`
	SchemaVersion      string    `json:"schemaVersion,omitempty"`
}

// ResultRecord is the outcome of one WorkItem. Exactly one exists per item after a run.
type ResultRecord struct {
	ItemID       int        `json:"itemId"`
	Source       string     `json:"source"`
	Output       string     `json:"output"`
	Status       Status     `json:"status"`
	OriginalSize int64      `json:"originalSize,omitempty"`
	ResultSize   int64      `json:"resultSize,omitempty"`
	Error        string     `json:"error,omitempty"`
	Class        ErrorClass `json:"class,omitempty"`
	SkipReason   string     `json:"skipReason,omitempty"`
	DurationMs   int64      `json:"durationMs"`
}

// Success reports whether the item was transformed successfully.
func (r ResultRecord) Success() bool { return r.Status == StatusSucceeded }

// PathMapping pairs an input with the output it produced.
type PathMapping struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ReductionRatio returns the size reduction in percent, clamped at zero so a
// result larger than its original never reports a negative saving.
func ReductionRatio(original, result int64) float64 {
	if original <= 0 {
		return 0
	}
	r := float64(original-result) / float64(original) * 100
	if r < 0 {
		return 0
	}
	return r
}

// Capped returns at most limit entries of items and how many were left out.
func Capped[T any](items []T, limit int) ([]T, int) {
	if limit < 0 {
		limit = 0
	}
	if len(items) <= limit {
		return items, 0
	}
	return items[:limit], len(items) - limit
}

// Failed returns the records of failed items.
func (r Report) Failed() []ResultRecord { return r.withStatus(StatusFailed) }

// Skipped returns the records of skipped items.
func (r Report) Skipped() []ResultRecord { return r.withStatus(StatusSkipped) }

func (r Report) withStatus(s Status) []ResultRecord {
	var out []ResultRecord
	for _, rec := range r.Records {
		if rec.Status == s {
			out = append(out, rec)
		}
	}
	return out
}

// OutputDirs returns the distinct directories that received outputs, sorted.
func (r Report) OutputDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, m := range r.Outputs {
		d := filepath.Dir(m.Output)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// --- reportAggregator ---

// reportAggregator tracks item state and result records during a run. It is fed
// by the engine's single drain goroutine and read once more at finalization.
type reportAggregator struct {
	mu         sync.Mutex
	items      []WorkItem
	records    map[int]ResultRecord
	firstFatal *ResultRecord
}

func newReportAggregator(items []WorkItem) *reportAggregator {
	cp := make([]WorkItem, len(items))
	copy(cp, items)
	return &reportAggregator{items: cp, records: make(map[int]ResultRecord, len(items))}
}

// setStatus applies a non-terminal transition and records the output the item
// is being written to. It returns false when the transition is not allowed
// (the item already reached a terminal state).
func (a *reportAggregator) setStatus(id int, s Status, output string) (WorkItem, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 0 || id >= len(a.items) {
		return WorkItem{}, false
	}
	it := &a.items[id]
	if it.Status != s && !it.Status.CanTransition(s) {
		return *it, false
	}
	it.Status = s
	if output != "" {
		it.Output = output
	}
	return *it, true
}

func (a *reportAggregator) item(id int) WorkItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 0 || id >= len(a.items) {
		return WorkItem{}
	}
	return a.items[id]
}

// addRecord stores the terminal record of an item. A second record for the same
// item is ignored.
func (a *reportAggregator) addRecord(rec ResultRecord) (WorkItem, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec.ItemID < 0 || rec.ItemID >= len(a.items) {
		return WorkItem{}, false
	}
	if _, dup := a.records[rec.ItemID]; dup {
		return a.items[rec.ItemID], false
	}
	it := &a.items[rec.ItemID]
	if it.Status != rec.Status && !it.Status.CanTransition(rec.Status) {
		return *it, false
	}
	it.Status = rec.Status
	it.Output = rec.Output
	it.SkipReason = rec.SkipReason
	a.records[rec.ItemID] = rec
	if rec.Class == ClassCritical && a.firstFatal == nil {
		r := rec
		a.firstFatal = &r
	}
	return *it, true
}

// finalize records every item that never reached a terminal state as cancelled.
func (a *reportAggregator) finalize() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.items {
		it := &a.items[i]
		if it.Status.IsTerminal() {
			continue
		}
		it.Status = StatusCancelled
		a.records[it.ID] = ResultRecord{
			ItemID: it.ID,
			Source: it.Source,
			Output: it.Output,
			Status: StatusCancelled,
			Class:  ClassCancelled,
		}
	}
}

func (a *reportAggregator) fatalRecord() (ResultRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.firstFatal == nil {
		return ResultRecord{}, false
	}
	return *a.firstFatal, true
}

type reportMeta struct {
	runID       string
	operation   string
	concurrency int
	altDir      string
	started     time.Time
	finished    time.Time
	paused      time.Duration
	fatal       bool
	cancelled   bool
}

// getReport compiles the final Report. Records are ordered by item id.
func (a *reportAggregator) getReport(meta reportMeta) Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		RunID:              meta.runID,
		Operation:          meta.operation,
		Total:              len(a.items),
		Concurrency:        meta.concurrency,
		AlternateDir:       meta.altDir,
		DurationSeconds:    meta.finished.Sub(meta.started).Seconds(),
		PausedSeconds:      meta.paused.Seconds(),
		FatalErrorOccurred: meta.fatal,
		CancelRequested:    meta.cancelled,
		Timestamp:          meta.finished.UTC(),
		SchemaVersion:      ReportSchemaVersion,
	}
	records := make([]ResultRecord, 0, len(a.records))
	var outputs []PathMapping
	for i := range a.items {
		rec, ok := a.records[i]
		if !ok {
			continue
		}
		records = append(records, rec)
		switch rec.Status {
		case StatusSucceeded:
			s.Succeeded++
			outputs = append(outputs, PathMapping{Input: rec.Source, Output: rec.Output})
			if rec.OriginalSize > 0 && rec.ResultSize > 0 {
				s.OriginalBytes += rec.OriginalSize
				s.ResultBytes += rec.ResultSize
				s.SizesReported++
			}
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	s.Processed = s.Succeeded + s.Failed
	s.ReductionPercent = ReductionRatio(s.OriginalBytes, s.ResultBytes)
	return Report{Summary: s, Records: records, Outputs: outputs}
}
