package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/leeineian/jukebox/proc"
)

var ErrClosed = errors.New("voice connection closed")

// Decoder turns one input file into Opus frames.
type Decoder interface {
	Transcode(ctx context.Context, onFrame func([]byte)) error
	Close()
}

// OpenFunc opens a decoder for a local file.
type OpenFunc func(path string) (Decoder, error)

// Sink is where a provider's frames go.
type Sink interface {
	Attach(p *StreamProvider)
	Detach()
	Close(ctx context.Context)
}

// Driver plays one file at a time on a Sink and reports exactly one
// terminal event per successful Start.
type Driver struct {
	sink Sink
	open OpenFunc
	log  *slog.Logger

	mu     sync.Mutex
	run    uint64
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

func NewDriver(sink Sink, open OpenFunc, log *slog.Logger) *Driver {
	return &Driver{sink: sink, open: open, log: log}
}

func (d *Driver) Start(path string, onEvent func(proc.Event)) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	dec, err := d.open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewStreamProvider(ctx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		dec.Close()
		return ErrClosed
	}
	d.run++
	run := d.run
	d.cancel = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	d.sink.Attach(p)
	go d.play(ctx, cancel, run, dec, p, onEvent)
	return nil
}

func (d *Driver) play(ctx context.Context, cancel context.CancelFunc, run uint64, dec Decoder, p *StreamProvider, onEvent func(proc.Event)) {
	err := dec.Transcode(ctx, p.PushFrame)
	dec.Close()
	p.PushFrame(nil)

	select {
	case <-p.Done():
	case <-ctx.Done():
	}
	halted := ctx.Err() != nil
	cancel()

	d.mu.Lock()
	if d.run == run {
		d.cancel = nil
		if !d.closed {
			d.sink.Detach()
		}
	}
	d.mu.Unlock()

	// Done before the callback: the callback may close this driver.
	d.wg.Done()

	if err != nil && !halted {
		d.log.Warn("Playback error", "error", err)
		onEvent(proc.Event{Kind: proc.Errored, Err: err})
		return
	}
	onEvent(proc.Event{Kind: proc.Completed})
}

// Halt stops the current playback. Its terminal event reports Completed.
func (d *Driver) Halt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Driver) Close(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}

	d.sink.Detach()
	d.sink.Close(ctx)
}
