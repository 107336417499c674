package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/leeineian/jukebox/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamProviderDeliversFramesThenSilence(t *testing.T) {
	p := NewStreamProvider(context.Background())
	go func() {
		p.PushFrame([]byte{1})
		p.PushFrame([]byte{2})
		p.PushFrame(nil)
	}()

	f, err := p.ProvideOpusFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, f)
	f, err = p.ProvideOpusFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, f)

	for i := 0; i < trailingQuiet; i++ {
		f, err = p.ProvideOpusFrame()
		require.NoError(t, err)
		assert.Equal(t, OpusSilence, f)
	}

	_, err = p.ProvideOpusFrame()
	assert.ErrorIs(t, err, io.EOF)
	select {
	case <-p.Done():
	default:
		t.Fatal("provider not done after drain")
	}
}

func TestStreamProviderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewStreamProvider(ctx)
	cancel()

	_, err := p.ProvideOpusFrame()
	assert.ErrorIs(t, err, io.EOF)

	pushed := make(chan struct{})
	go func() {
		for i := 0; i < frameBuffer*2; i++ {
			p.PushFrame([]byte{0})
		}
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("PushFrame blocked after cancel")
	}
}

func TestStreamProviderTimeoutYieldsNoFrame(t *testing.T) {
	p := NewStreamProvider(context.Background())
	f, err := p.ProvideOpusFrame()
	assert.NoError(t, err)
	assert.Nil(t, f)
}

// pullSink drains attached providers the way the voice sender does.
type pullSink struct {
	mu       sync.Mutex
	frames   int
	detached int
	closed   bool
}

func (s *pullSink) Attach(p *StreamProvider) {
	go func() {
		for {
			f, err := p.ProvideOpusFrame()
			if err != nil {
				return
			}
			if f != nil {
				s.mu.Lock()
				s.frames++
				s.mu.Unlock()
			}
		}
	}()
}

func (s *pullSink) Detach() {
	s.mu.Lock()
	s.detached++
	s.mu.Unlock()
}

func (s *pullSink) Close(context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type fakeDecoder struct {
	frames int
	err    error
	block  bool
	closed chan struct{}
}

func (d *fakeDecoder) Transcode(ctx context.Context, on func([]byte)) error {
	for i := 0; i < d.frames; i++ {
		on([]byte{byte(i)})
	}
	if d.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return d.err
}

func (d *fakeDecoder) Close() { close(d.closed) }

func newDecoder(frames int) *fakeDecoder {
	return &fakeDecoder{frames: frames, closed: make(chan struct{})}
}

func newTestDriver(sink Sink, dec *fakeDecoder) *Driver {
	open := func(string) (Decoder, error) { return dec, nil }
	return NewDriver(sink, open, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitEvent(t *testing.T, ch <-chan proc.Event) proc.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal event")
		return proc.Event{}
	}
}

func TestDriverCompletesAfterDrain(t *testing.T) {
	sink := &pullSink{}
	dec := newDecoder(3)
	d := newTestDriver(sink, dec)

	events := make(chan proc.Event, 2)
	require.NoError(t, d.Start("/tracks/a.mp3", func(ev proc.Event) { events <- ev }))

	ev := waitEvent(t, events)
	assert.Equal(t, proc.Completed, ev.Kind)
	<-dec.closed

	sink.mu.Lock()
	assert.Equal(t, 3+trailingQuiet, sink.frames)
	assert.Equal(t, 1, sink.detached)
	sink.mu.Unlock()

	select {
	case ev := <-events:
		t.Fatalf("second event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDriverReportsDecodeError(t *testing.T) {
	dec := newDecoder(1)
	dec.err = errors.New("invalid data found when processing input")
	d := newTestDriver(&pullSink{}, dec)

	events := make(chan proc.Event, 1)
	require.NoError(t, d.Start("/tracks/bad.mp3", func(ev proc.Event) { events <- ev }))

	ev := waitEvent(t, events)
	assert.Equal(t, proc.Errored, ev.Kind)
	assert.EqualError(t, ev.Err, "invalid data found when processing input")
}

func TestDriverHaltReportsCompleted(t *testing.T) {
	dec := newDecoder(0)
	dec.block = true
	d := newTestDriver(&pullSink{}, dec)

	events := make(chan proc.Event, 1)
	require.NoError(t, d.Start("/tracks/long.mp3", func(ev proc.Event) { events <- ev }))
	d.Halt()

	ev := waitEvent(t, events)
	assert.Equal(t, proc.Completed, ev.Kind)
}

func TestDriverOpenFailureHasNoEvent(t *testing.T) {
	open := func(string) (Decoder, error) { return nil, errors.New("no audio stream") }
	d := NewDriver(&pullSink{}, open, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := d.Start("/tracks/empty.mp3", func(proc.Event) { t.Fatal("unexpected event") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty.mp3")
}

func TestDriverCloseFromCallback(t *testing.T) {
	sink := &pullSink{}
	d := newTestDriver(sink, newDecoder(1))

	closed := make(chan struct{})
	require.NoError(t, d.Start("/tracks/a.mp3", func(proc.Event) {
		d.Close(context.Background())
		close(closed)
	}))

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close deadlocked inside the event callback")
	}

	sink.mu.Lock()
	assert.True(t, sink.closed)
	sink.mu.Unlock()

	assert.ErrorIs(t, d.Start("/tracks/b.mp3", func(proc.Event) {}), ErrClosed)
}
