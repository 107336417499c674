package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirStore struct{ dir string }

func (s dirStore) PathFor(id string) string { return filepath.Join(s.dir, id+".mp3") }

func (s dirStore) Get(id string) (string, error) {
	p := s.PathFor(id)
	if info, err := os.Stat(p); err == nil && info.Size() > 0 {
		return p, nil
	}
	return "", os.ErrNotExist
}

type fakeRunner struct {
	calls   atomic.Int32
	release chan struct{}
	fail    error
	skip    bool
	sawCtx  chan context.Context
}

func (r *fakeRunner) Run(ctx context.Context, _ string, out string, logLine func(stream, line string)) error {
	r.calls.Add(1)
	if r.sawCtx != nil {
		r.sawCtx <- ctx
	}
	logLine("stdout", "[download] 100%")
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			_ = os.WriteFile(out, []byte("partial"), 0o644)
			return &ProcessError{Err: ctx.Err(), Stderr: "killed"}
		}
	}
	if r.fail != nil {
		_ = os.WriteFile(out, []byte("partial"), 0o644)
		return r.fail
	}
	if r.skip {
		return nil
	}
	return os.WriteFile(out, []byte("ID3audio"), 0o644)
}

func newTestOrchestrator(t *testing.T, r Runner) (*Orchestrator, dirStore) {
	t.Helper()
	store := dirStore{dir: t.TempDir()}
	o := NewOrchestrator(Config{
		Runner:  r,
		Store:   store,
		Timeout: 5 * time.Second,
		Rate:    1000,
		Burst:   100,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return o, store
}

func TestExtractSuccess(t *testing.T) {
	r := &fakeRunner{}
	o, store := newTestOrchestrator(t, r)

	path, err := o.Extract(context.Background(), "abc", "https://www.youtube.com/watch?v=abc")
	require.NoError(t, err)
	assert.Equal(t, store.PathFor("abc"), path)
	assert.FileExists(t, path)
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, 0, o.InFlight())
}

func TestExtractSkipsWhenFilePresent(t *testing.T) {
	r := &fakeRunner{}
	o, store := newTestOrchestrator(t, r)
	require.NoError(t, os.WriteFile(store.PathFor("abc"), []byte("cached"), 0o644))

	path, err := o.Extract(context.Background(), "abc", "url")
	require.NoError(t, err)
	assert.Equal(t, store.PathFor("abc"), path)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestExtractDeduplicatesConcurrentCallers(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{})}
	o, _ := newTestOrchestrator(t, r)

	const callers = 5
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = o.Extract(context.Background(), "same", "url")
		}(i)
	}

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, int64(1), o.Spawned())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
}

func TestExtractFailureRemovesPartialOutput(t *testing.T) {
	cause := &ProcessError{Err: errors.New("exit status 1"), Stderr: "ERROR: Video unavailable"}
	r := &fakeRunner{fail: cause}
	o, store := newTestOrchestrator(t, r)

	_, err := o.Extract(context.Background(), "gone", "url")
	require.Error(t, err)

	var extErr *Error
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "gone", extErr.ID)
	assert.Contains(t, err.Error(), "Video unavailable")
	assert.NoFileExists(t, store.PathFor("gone"))
}

func TestExtractMissingOutputFails(t *testing.T) {
	r := &fakeRunner{skip: true}
	o, _ := newTestOrchestrator(t, r)

	_, err := o.Extract(context.Background(), "ghost", "url")
	require.ErrorIs(t, err, ErrMissingOutput)
}

func TestExtractLastWaiterLeavingCancelsProcess(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{}), sawCtx: make(chan context.Context, 1)}
	o, store := newTestOrchestrator(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Extract(ctx, "abc", "url")
		done <- err
	}()

	runCtx := <-r.sawCtx
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("process context was not cancelled")
	}
	require.Eventually(t, func() bool { return o.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoFileExists(t, store.PathFor("abc"))
}

func TestExtractOneWaiterLeavingKeepsProcessForOthers(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{}), sawCtx: make(chan context.Context, 1)}
	o, _ := newTestOrchestrator(t, r)

	leaving, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := o.Extract(leaving, "abc", "url")
		first <- err
	}()
	runCtx := <-r.sawCtx

	second := make(chan error, 1)
	go func() {
		_, err := o.Extract(context.Background(), "abc", "url")
		second <- err
	}()
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		c := o.inflight["abc"]
		return c != nil && c.waiters == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.Error(t, <-first)
	assert.NoError(t, runCtx.Err())

	close(r.release)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestProcessErrorMessage(t *testing.T) {
	err := &ProcessError{Err: errors.New("exit status 1"), Stderr: "ERROR: boom"}
	assert.Equal(t, "exit status 1: ERROR: boom", err.Error())
	assert.Equal(t, "exit status 2", (&ProcessError{Err: errors.New("exit status 2")}).Error())
}
