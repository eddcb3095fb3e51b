package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/pklkb/internal/usecase"
)

type fakeCompiler struct {
	runs atomic.Int32
	err  error
}

func (f *fakeCompiler) Run(ctx context.Context, opts usecase.Options) error {
	f.runs.Add(1)
	return f.err
}

type fakeToken struct {
	mu       sync.Mutex
	claimed  bool
	released bool
	claimErr error
}

func (f *fakeToken) Claim() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return f.claimErr
	}
	f.claimed = true
	return nil
}

func (f *fakeToken) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

func (f *fakeToken) snapshot() (claimed, released bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimed, f.released
}

type fakeNotifier struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (f *fakeNotifier) Success(title, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, body)
}

func (f *fakeNotifier) Error(title, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, body)
}

func (f *fakeNotifier) counts() (successes, failures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.successes), len(f.errors)
}

func newTestDaemon(t *testing.T, sourcePath string) (*Daemon, *fakeCompiler, *fakeToken, *fakeNotifier) {
	t.Helper()
	compiler := &fakeCompiler{}
	token := &fakeToken{}
	notifier := &fakeNotifier{}
	d := New(sourcePath, compiler, notifier, token, zap.NewNop())
	d.SetDebounce(150 * time.Millisecond)
	return d, compiler, token, notifier
}

func writeSourceFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("amends \"modulepath:/karabiner.pkl\"\n"), 0644))
}

func TestDaemon_InitialCycleOnStart(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "karabiner.pkl")
	writeSourceFile(t, source)

	d, compiler, token, _ := newTestDaemon(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return compiler.runs.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	claimed, released := token.snapshot()
	assert.True(t, claimed)
	assert.True(t, released)
	assert.Equal(t, StateStopped, d.State())
}

func TestDaemon_CoalescesEventBurst(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "karabiner.pkl")
	writeSourceFile(t, source)

	d, compiler, _, notifier := newTestDaemon(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return compiler.runs.Load() == 1 && d.State() == StateWatching
	}, 2*time.Second, 10*time.Millisecond)

	// A rapid burst of writes must settle into a single compile cycle.
	for i := 0; i < 3; i++ {
		writeSourceFile(t, source)
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return compiler.runs.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Allow another debounce window to pass and check nothing else fired.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(2), compiler.runs.Load())

	successes, failures := notifier.counts()
	assert.Equal(t, 2, successes)
	assert.Equal(t, 0, failures)

	cancel()
	require.NoError(t, <-done)
}

func TestDaemon_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "karabiner.pkl")
	writeSourceFile(t, source)

	d, compiler, _, _ := newTestDaemon(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return compiler.runs.Load() == 1 && d.State() == StateWatching
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), compiler.runs.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestDaemon_CompileFailureNotifiesAndContinues(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "karabiner.pkl")
	writeSourceFile(t, source)

	d, compiler, _, notifier := newTestDaemon(t, source)
	compiler.err = errors.New("pkl compilation failed: bad syntax")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return compiler.runs.Load() == 1 && d.State() == StateWatching
	}, 2*time.Second, 10*time.Millisecond)

	writeSourceFile(t, source)

	require.Eventually(t, func() bool {
		return compiler.runs.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// The loop survives failures and keeps watching.
	require.Eventually(t, func() bool {
		return d.State() == StateWatching
	}, 2*time.Second, 10*time.Millisecond)

	_, failures := notifier.counts()
	assert.GreaterOrEqual(t, failures, 2)

	cancel()
	require.NoError(t, <-done)
}

func TestDaemon_ClaimFailureAborts(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "karabiner.pkl")
	writeSourceFile(t, source)

	d, compiler, token, _ := newTestDaemon(t, source)
	token.claimErr = errors.New("another instance is running")

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(0), compiler.runs.Load())
}

func TestDaemon_BatchMatchesSource(t *testing.T) {
	d := New("/home/u/.config/karabiner.pkl", nil, nil, nil, zap.NewNop())

	assert.True(t, d.batchMatchesSource([]string{"/tmp/x", "/home/u/.config/karabiner.pkl"}))
	// Atomic-rename saves report the temp path first, then the final name.
	assert.True(t, d.batchMatchesSource([]string{"/home/u/.config/.karabiner.pkl.swp", "/other/dir/karabiner.pkl"}))
	assert.False(t, d.batchMatchesSource([]string{"/home/u/.config/other.pkl"}))
	assert.False(t, d.batchMatchesSource(nil))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "watching", StateWatching.String())
	assert.Equal(t, "compiling", StateCompiling.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(99).String())
}
