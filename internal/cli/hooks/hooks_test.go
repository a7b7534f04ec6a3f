package hooks

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/pdf-toolkit/internal/testutil"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

func newLogger(level slog.Level) (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})), buf
}

func TestCLIHooks_TUIForwardsMessages(t *testing.T) {
	tui := &testutil.MockTUIProgram{}
	logger, logBuf := newLogger(slog.LevelDebug)
	h := NewCLIHooks(logger, true, false, tui)

	item := batch.WorkItem{ID: 2, Source: "/in/a.pdf", Output: "/out/a.pdf", Status: batch.StatusProcessing}
	sample := batch.ProgressSample{ItemID: 2, Done: 1, Total: 3, Timestamp: time.Now()}
	eta := batch.Estimate{Ready: true, Remaining: 4 * time.Second}
	rec := batch.ResultRecord{ItemID: 2, Source: item.Source, Status: batch.StatusFailed, Error: "boom", Class: batch.ClassItem}
	report := batch.Report{Summary: batch.Summary{Total: 1, Failed: 1}}

	require.NoError(t, h.OnItemStatus(item))
	require.NoError(t, h.OnItemProgress(item, sample, eta))
	require.NoError(t, h.OnRunProgress(1, 1, eta))
	require.NoError(t, h.OnItemComplete(item, rec))
	require.NoError(t, h.OnRunComplete(report))

	assert.Equal(t, []interface{}{
		ItemStatusMsg{Item: item},
		ItemProgressMsg{Item: item, Sample: sample, ETA: eta},
		RunProgressMsg{Done: 1, Total: 1, ETA: eta},
		ItemCompleteMsg{Item: item, Record: rec},
		RunCompleteMsg{Report: report},
	}, tui.Messages())
	assert.Empty(t, logBuf.String())
}

func TestCLIHooks_LogsWithoutTUI(t *testing.T) {
	t.Run("failures are always logged", func(t *testing.T) {
		logger, logBuf := newLogger(slog.LevelInfo)
		h := NewCLIHooks(logger, false, false, nil)

		rec := batch.ResultRecord{Source: "/in/bad.pdf", Status: batch.StatusFailed, Error: "corrupt xref", Class: batch.ClassItem}
		require.NoError(t, h.OnItemComplete(batch.WorkItem{}, rec))
		require.NoError(t, h.OnItemComplete(batch.WorkItem{}, batch.ResultRecord{Source: "/in/ok.pdf", Status: batch.StatusSucceeded}))

		out := logBuf.String()
		assert.Contains(t, out, "Item failed")
		assert.Contains(t, out, "corrupt xref")
		assert.NotContains(t, out, "ok.pdf")
	})

	t.Run("verbose logs skips and successes", func(t *testing.T) {
		logger, logBuf := newLogger(slog.LevelDebug)
		h := NewCLIHooks(logger, false, true, nil)

		require.NoError(t, h.OnItemStatus(batch.WorkItem{ID: 1, Source: "/in/a.pdf", Status: batch.StatusProcessing}))
		require.NoError(t, h.OnItemProgress(batch.WorkItem{ID: 1}, batch.ProgressSample{Done: 1, Total: 2}, batch.Estimate{}))
		require.NoError(t, h.OnItemComplete(batch.WorkItem{}, batch.ResultRecord{Source: "/in/s.pdf", Status: batch.StatusSkipped, SkipReason: batch.SkipReasonEncrypted}))
		require.NoError(t, h.OnItemComplete(batch.WorkItem{}, batch.ResultRecord{Source: "/in/a.pdf", Output: "/out/a.pdf", Status: batch.StatusSucceeded}))

		out := logBuf.String()
		assert.Contains(t, out, "Item status changed")
		assert.Contains(t, out, batch.EstimatePlaceholder)
		assert.Contains(t, out, "reason="+batch.SkipReasonEncrypted)
		assert.Contains(t, out, "Item done")
	})

	t.Run("run progress", func(t *testing.T) {
		logger, logBuf := newLogger(slog.LevelInfo)
		h := NewCLIHooks(logger, false, false, nil)

		require.NoError(t, h.OnRunProgress(3, 10, batch.Estimate{Ready: true, Remaining: 65 * time.Second}))

		out := logBuf.String()
		assert.Contains(t, out, "done=3")
		assert.Contains(t, out, "total=10")
		assert.Contains(t, out, "eta=1m05s")
	})
}
