// Package testutil provides mock implementations for the interfaces of the
// pdf-toolkit library (pkg/batch, pkg/pdfops, pkg/discover) along with small
// filesystem helpers for tests.
package testutil

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stretchr/testify/mock"
)

// MockHooks provides a mock implementation of the batch.Hooks interface.
// The engine calls hooks from a single goroutine, but tests usually inspect the
// mock from another one; use Calls() only after Run returned.
type MockHooks struct {
	mock.Mock
}

// OnItemStatus mocks the OnItemStatus method.
func (m *MockHooks) OnItemStatus(item batch.WorkItem) error {
	args := m.Called(item)
	return args.Error(0)
}

// OnItemProgress mocks the OnItemProgress method.
func (m *MockHooks) OnItemProgress(item batch.WorkItem, sample batch.ProgressSample, eta batch.Estimate) error {
	args := m.Called(item, sample, eta)
	return args.Error(0)
}

// OnRunProgress mocks the OnRunProgress method.
func (m *MockHooks) OnRunProgress(done, total int, eta batch.Estimate) error {
	args := m.Called(done, total, eta)
	return args.Error(0)
}

// OnItemComplete mocks the OnItemComplete method.
func (m *MockHooks) OnItemComplete(item batch.WorkItem, rec batch.ResultRecord) error {
	args := m.Called(item, rec)
	return args.Error(0)
}

// OnRunComplete mocks the OnRunComplete method.
func (m *MockHooks) OnRunComplete(report batch.Report) error {
	args := m.Called(report)
	return args.Error(0)
}

// MockTransform provides a mock implementation of the batch.Transform interface.
// Use .Run(...) on the Apply expectation to drive the progress callback.
type MockTransform struct {
	mock.Mock
}

// Name mocks the Name method.
func (m *MockTransform) Name() string {
	args := m.Called()
	return args.String(0)
}

// Apply mocks the Apply method.
func (m *MockTransform) Apply(ctx context.Context, item batch.WorkItem, progress batch.ProgressFunc) (batch.Output, error) {
	args := m.Called(ctx, item, progress)
	out, _ := args.Get(0).(batch.Output)
	return out, args.Error(1)
}

// MockDecider provides a mock implementation of the batch.Decider interface.
type MockDecider struct {
	mock.Mock
}

// DecideExisting mocks the DecideExisting method.
func (m *MockDecider) DecideExisting(existing []batch.WorkItem) (batch.Decision, error) {
	args := m.Called(existing)
	d, _ := args.Get(0).(batch.Decision)
	return d, args.Error(1)
}

// ChooseDirectory mocks the ChooseDirectory method.
func (m *MockDecider) ChooseDirectory(attempt int, unwritable map[string]string) (string, error) {
	args := m.Called(attempt, unwritable)
	return args.String(0), args.Error(1)
}

// MockManifest provides a mock implementation of the batch.Manifest interface.
type MockManifest struct {
	mock.Mock
}

// Check mocks the Check method.
func (m *MockManifest) Check(item batch.WorkItem) bool {
	args := m.Called(item)
	return args.Bool(0)
}

// Update mocks the Update method.
func (m *MockManifest) Update(rec batch.ResultRecord) error {
	args := m.Called(rec)
	return args.Error(0)
}

// Persist mocks the Persist method.
func (m *MockManifest) Persist(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

// MockCommandRunner provides a mock implementation of pdfops.CommandRunner.
type MockCommandRunner struct {
	mock.Mock
}

// Run mocks the Run method.
func (m *MockCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	callArgs := m.Called(ctx, name, args)
	out, _ := callArgs.Get(0).([]byte)
	return out, callArgs.Error(1)
}

// MockRecognizer provides a mock implementation of pdfops.Recognizer.
type MockRecognizer struct {
	mock.Mock
}

// Recognize mocks the Recognize method.
func (m *MockRecognizer) Recognize(ctx context.Context, imagePath string, languages string) (string, error) {
	args := m.Called(ctx, imagePath, languages)
	return args.String(0), args.Error(1)
}

// MockChangeSource provides a mock implementation of discover.ChangeSource.
type MockChangeSource struct {
	mock.Mock
}

// ChangedFiles mocks the ChangedFiles method.
func (m *MockChangeSource) ChangedFiles(root, since string) ([]string, error) {
	args := m.Called(root, since)
	files, _ := args.Get(0).([]string)
	return files, args.Error(1)
}

// MockTUIProgram records messages sent to a bubbletea program.
type MockTUIProgram struct {
	mu   sync.Mutex
	Msgs []interface{}
}

// Send records msg.
func (m *MockTUIProgram) Send(msg interface{}) {
	m.mu.Lock()
	m.Msgs = append(m.Msgs, msg)
	m.mu.Unlock()
}

// Messages returns a copy of the recorded messages.
func (m *MockTUIProgram) Messages() []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]interface{}, len(m.Msgs))
	copy(out, m.Msgs)
	return out
}

// MockLoggerHandler provides a mock implementation of slog.Handler.
type MockLoggerHandler struct {
	mock.Mock
}

// Enabled mocks the Enabled method.
func (m *MockLoggerHandler) Enabled(ctx context.Context, level slog.Level) bool {
	args := m.Called(ctx, level)
	return args.Bool(0)
}

// Handle mocks the Handle method.
func (m *MockLoggerHandler) Handle(ctx context.Context, r slog.Record) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

// WithAttrs mocks the WithAttrs method.
func (m *MockLoggerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	args := m.Called(attrs)
	if h, ok := args.Get(0).(slog.Handler); ok {
		return h
	}
	return m
}

// WithGroup mocks the WithGroup method.
func (m *MockLoggerHandler) WithGroup(name string) slog.Handler {
	args := m.Called(name)
	if h, ok := args.Get(0).(slog.Handler); ok {
		return h
	}
	return m
}
