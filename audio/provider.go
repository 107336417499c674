// Package audio plays transcoded Opus frames on a Discord voice connection.
package audio

import (
	"context"
	"io"
	"sync"
	"time"
)

// OpusSilence is a single 20ms Opus frame of silence.
var OpusSilence = []byte{0xf8, 0xff, 0xfe}

const (
	frameBuffer   = 100
	trailingQuiet = 5
	frameTimeout  = 100 * time.Millisecond
)

// StreamProvider hands frames pushed by a transcoder to the voice sender.
// A nil frame marks the end of the stream; a few silence frames follow it
// so the receiving clients do not interpolate the last packet.
type StreamProvider struct {
	ctx    context.Context
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	// consumer side only
	ended    bool
	trailing int
}

func NewStreamProvider(ctx context.Context) *StreamProvider {
	return &StreamProvider{
		ctx:    ctx,
		frames: make(chan []byte, frameBuffer),
		done:   make(chan struct{}),
	}
}

func (p *StreamProvider) PushFrame(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	case <-p.done:
	}
}

func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	if p.trailing > 0 {
		p.trailing--
		return OpusSilence, nil
	}
	if p.ended {
		p.Close()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.ended = true
			p.trailing = trailingQuiet - 1
			return OpusSilence, nil
		}
		return f, nil
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	case <-p.done:
		return nil, io.EOF
	case <-time.After(frameTimeout):
		return nil, nil
	}
}

// Close marks the stream as fully drained.
func (p *StreamProvider) Close() {
	p.once.Do(func() { close(p.done) })
}

// Done is closed once the provider has been drained or closed.
func (p *StreamProvider) Done() <-chan struct{} {
	return p.done
}
