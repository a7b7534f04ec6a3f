package pdfops_test

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/pdf-toolkit/internal/testutil"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
)

func testHandler() slog.Handler {
	return slog.NewTextHandler(&bytes.Buffer{}, nil)
}

// progressLog records progress callbacks and can cancel at a given unit.
type progressLog struct {
	mu       sync.Mutex
	calls    [][2]int
	cancelAt int
}

func (p *progressLog) fn(unit, total int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]int{unit, total})
	if p.cancelAt > 0 && unit >= p.cancelAt {
		return batch.ErrCancelled
	}
	return nil
}

func (p *progressLog) units() [][2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int(nil), p.calls...)
}

// outputFileArg returns the value of Ghostscript's -sOutputFile argument.
func outputFileArg(args []string) string {
	for _, a := range args {
		if strings.HasPrefix(a, "-sOutputFile=") {
			return strings.TrimPrefix(a, "-sOutputFile=")
		}
	}
	return ""
}

// fakeGhostscript makes runner answer gs calls by writing size bytes to the
// requested output file.
func fakeGhostscript(t *testing.T, runner *testutil.MockCommandRunner, size int) {
	t.Helper()
	runner.On("Run", mock.Anything, "gs", mock.Anything).Run(func(args mock.Arguments) {
		out := outputFileArg(args.Get(2).([]string))
		require.NotEmpty(t, out)
		require.NoError(t, os.WriteFile(out, bytes.Repeat([]byte("x"), size), 0o644))
	}).Return([]byte(nil), nil)
}
