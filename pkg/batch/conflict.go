package batch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Decision is the run-wide answer to pre-existing outputs.
type Decision string

const (
	DecisionOverwrite Decision = "overwrite"
	DecisionSkip      Decision = "skip"
	DecisionAbort     Decision = "abort"
)

// Decider is consulted by the Resolver. Each method is called at most once per
// condition per run, never once per file.
type Decider interface {
	// DecideExisting chooses how to handle items whose outputs already exist.
	DecideExisting(existing []WorkItem) (Decision, error)
	// ChooseDirectory returns an alternate output directory for unwritable
	// directories (keyed by path, valued by the probe message). Returning "" gives up.
	ChooseDirectory(attempt int, unwritable map[string]string) (string, error)
}

// Resolution is the outcome of the pre-flight conflict check.
type Resolution struct {
	Items        []WorkItem // every input item; excluded ones are already StatusSkipped
	Decision     Decision   // empty when no output existed
	AlternateDir string     // empty unless an alternate directory was accepted
	Existing     int        // number of pre-existing outputs found
}

// Resolver performs the pre-flight check of output paths and directories and
// yields one run-wide policy.
type Resolver struct {
	policy      ConflictPolicy
	decider     Decider
	probe       WritableFunc
	maxAttempts int
	logger      *slog.Logger
}

// NewResolver creates a Resolver. A nil probe uses IsWritable.
func NewResolver(policy ConflictPolicy, decider Decider, probe WritableFunc, maxAttempts int, loggerHandler slog.Handler) *Resolver {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	if probe == nil {
		probe = IsWritable
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxDirectoryAttempts
	}
	if policy == "" {
		policy = DefaultConflictPolicy
	}
	return &Resolver{
		policy:      policy,
		decider:     decider,
		probe:       probe,
		maxAttempts: maxAttempts,
		logger:      slog.New(loggerHandler).With(slog.String("component", "resolver")),
	}
}

// Resolve checks every item's output directory for writability and its output
// path for existence. It never writes outputs and never creates directories;
// an Abort decision therefore leaves the filesystem untouched. Two items that
// would write the same output fail the check with ErrConfigValidation.
func (r *Resolver) Resolve(items []WorkItem) (Resolution, error) {
	res := Resolution{Items: make([]WorkItem, len(items))}
	copy(res.Items, items)
	if err := checkDistinct(res.Items); err != nil {
		return res, err
	}

	unwritable := make(map[string]string)
	checked := make(map[string]bool)
	for _, it := range res.Items {
		dir := filepath.Dir(it.Output)
		if checked[dir] {
			continue
		}
		checked[dir] = true
		if ok, msg := r.probe(dir); !ok {
			unwritable[dir] = msg
			r.logger.Warn("Output directory not writable", slog.String("dir", dir), slog.String("reason", msg))
		}
	}

	if len(unwritable) > 0 {
		alt, err := r.ChooseAlternate(unwritable)
		if err != nil {
			return res, err
		}
		res.AlternateDir = alt
		root := CommonDir(outputsOf(res.Items))
		for i := range res.Items {
			res.Items[i].Output = Relocate(res.Items[i].Output, root, alt)
		}
		if err := checkDistinct(res.Items); err != nil {
			return res, err
		}
	}

	var existing []int
	for i, it := range res.Items {
		if _, err := os.Stat(it.Output); err == nil {
			existing = append(existing, i)
		} else if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug("Could not stat output", slog.String("path", it.Output), slog.String("error", err.Error()))
		}
	}
	res.Existing = len(existing)
	if len(existing) == 0 {
		return res, nil
	}

	decision, err := r.decideExisting(res.Items, existing)
	if err != nil {
		return res, err
	}
	res.Decision = decision
	r.logger.Info("Conflict decision", slog.String("decision", string(decision)), slog.Int("existing", len(existing)))

	switch decision {
	case DecisionAbort:
		return res, fmt.Errorf("%w: %d output(s) already exist", ErrAborted, len(existing))
	case DecisionSkip:
		for _, i := range existing {
			res.Items[i].Status = StatusSkipped
			res.Items[i].SkipReason = SkipReasonOutputExists
		}
	}
	return res, nil
}

func (r *Resolver) decideExisting(items []WorkItem, existing []int) (Decision, error) {
	switch r.policy {
	case PolicyOverwrite:
		return DecisionOverwrite, nil
	case PolicySkip:
		return DecisionSkip, nil
	case PolicyAbort:
		return DecisionAbort, nil
	}
	if r.decider == nil {
		return "", fmt.Errorf("%w: conflict policy '%s' requires a Decider", ErrConfigValidation, r.policy)
	}
	conflicting := make([]WorkItem, 0, len(existing))
	for _, i := range existing {
		conflicting = append(conflicting, items[i])
	}
	decision, err := r.decider.DecideExisting(conflicting)
	if err != nil {
		return "", fmt.Errorf("%w: conflict decision failed: %w", ErrAborted, err)
	}
	switch decision {
	case DecisionOverwrite, DecisionSkip, DecisionAbort:
		return decision, nil
	}
	return "", fmt.Errorf("%w: unknown conflict decision '%s'", ErrConfigValidation, decision)
}

// ChooseAlternate asks the Decider for an alternate directory, retrying up to the
// configured attempt count. Each candidate must pass the write probe.
func (r *Resolver) ChooseAlternate(unwritable map[string]string) (string, error) {
	if r.decider == nil {
		return "", fmt.Errorf("%w: %s", ErrPermission, describeDirs(unwritable))
	}
	pending := unwritable
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		dir, err := r.decider.ChooseDirectory(attempt, pending)
		if err != nil {
			return "", fmt.Errorf("%w: directory selection failed: %w", ErrPermission, err)
		}
		if dir == "" {
			return "", fmt.Errorf("%w: %w: no alternate directory chosen for %s", ErrAborted, ErrPermission, describeDirs(unwritable))
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			pending = map[string]string{dir: err.Error()}
			continue
		}
		if ok, msg := r.probe(abs); ok {
			r.logger.Info("Alternate output directory accepted", slog.String("dir", abs), slog.Int("attempt", attempt))
			return abs, nil
		} else {
			r.logger.Warn("Alternate directory rejected", slog.String("dir", abs), slog.String("reason", msg))
			pending = map[string]string{abs: msg}
		}
	}
	return "", fmt.Errorf("%w: no writable directory after %d attempts", ErrPermission, r.maxAttempts)
}

// Relocate moves output into dir, keeping its path below root. An output
// outside root keeps only its base name; one already inside dir is returned
// unchanged.
func Relocate(output, root, dir string) string {
	if _, ok := relBelow(dir, output); ok {
		return output
	}
	if root != "" {
		if rel, ok := relBelow(root, output); ok && rel != "." {
			return filepath.Join(dir, rel)
		}
	}
	return filepath.Join(dir, filepath.Base(output))
}

// checkDistinct rejects item lists in which two items write the same output.
func checkDistinct(items []WorkItem) error {
	seen := make(map[string]WorkItem, len(items))
	for _, it := range items {
		key, err := filepath.Abs(it.Output)
		if err != nil {
			key = filepath.Clean(it.Output)
		}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: '%s' and '%s' would both write '%s'", ErrConfigValidation, prev.Source, it.Source, it.Output)
		}
		seen[key] = it
	}
	return nil
}

func outputsOf(items []WorkItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Output
	}
	return out
}

func describeDirs(dirs map[string]string) string {
	keys := make([]string, 0, len(dirs))
	for k := range dirs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 1 {
		return fmt.Sprintf("'%s' (%s)", keys[0], dirs[keys[0]])
	}
	return fmt.Sprintf("%d directories including '%s'", len(keys), keys[0])
}
