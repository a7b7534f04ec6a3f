package testutil_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/pdf-toolkit/internal/cli/hooks"
	"github.com/stackvity/pdf-toolkit/internal/testutil"
	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/discover"
	"github.com/stackvity/pdf-toolkit/pkg/pdfops"
)

// The mocks must keep satisfying the interfaces they stand in for.
var (
	_ batch.Hooks           = (*testutil.MockHooks)(nil)
	_ batch.Transform       = (*testutil.MockTransform)(nil)
	_ batch.Decider         = (*testutil.MockDecider)(nil)
	_ batch.Manifest        = (*testutil.MockManifest)(nil)
	_ pdfops.CommandRunner  = (*testutil.MockCommandRunner)(nil)
	_ pdfops.Recognizer     = (*testutil.MockRecognizer)(nil)
	_ discover.ChangeSource = (*testutil.MockChangeSource)(nil)
	_ hooks.TUIProgram      = (*testutil.MockTUIProgram)(nil)
	_ slog.Handler          = (*testutil.MockLoggerHandler)(nil)
)

func TestMockTUIProgram_MessagesIsACopy(t *testing.T) {
	p := &testutil.MockTUIProgram{}
	p.Send(hooks.RunProgressMsg{Done: 1, Total: 2})

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	msgs[0] = nil

	assert.Equal(t, hooks.RunProgressMsg{Done: 1, Total: 2}, p.Messages()[0])
}

func TestMinimalPDF(t *testing.T) {
	path := t.TempDir() + "/three.pdf"
	testutil.CreateDummyPDF(t, path, 3)

	n, err := pdfops.PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
