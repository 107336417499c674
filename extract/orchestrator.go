// Package extract produces cached audio files by running the external
// extraction utility, with at most one process per item id.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Store is the part of the media cache the orchestrator needs.
type Store interface {
	PathFor(id string) string
	Get(id string) (string, error)
}

// Error reports a failed extraction for one item.
type Error struct {
	ID  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download failed for %s: %v", e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var ErrMissingOutput = errors.New("extraction produced no output file")

type Config struct {
	Runner  Runner
	Store   Store
	Timeout time.Duration
	Rate    float64
	Burst   int
	Logger  *slog.Logger
}

type call struct {
	done      chan struct{}
	path      string
	err       error
	waiters   int
	abandoned bool
	cancel    context.CancelFunc
}

// Orchestrator deduplicates concurrent extractions of the same id. The
// process runs on its own context and is cancelled once every waiter has
// left or the timeout expires.
type Orchestrator struct {
	runner  Runner
	store   Store
	timeout time.Duration
	limiter *rate.Limiter
	log     *slog.Logger

	mu       sync.Mutex
	inflight map[string]*call
	spawned  atomic.Int64
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		runner:   cfg.Runner,
		store:    cfg.Store,
		timeout:  cfg.Timeout,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		log:      cfg.Logger,
		inflight: make(map[string]*call),
	}
}

// Extract returns the path of the audio file for id, running the utility
// if no other caller is already doing so. A cancelled ctx only withdraws
// this caller's interest.
func (o *Orchestrator) Extract(ctx context.Context, id, sourceURL string) (string, error) {
	for {
		o.mu.Lock()
		c, ok := o.inflight[id]
		if ok && c.abandoned {
			o.mu.Unlock()
			select {
			case <-c.done:
				continue
			case <-ctx.Done():
				return "", &Error{ID: id, Err: ctx.Err()}
			}
		}

		if !ok {
			if path, err := o.store.Get(id); err == nil {
				o.mu.Unlock()
				return path, nil
			}
			runCtx, cancel := context.WithTimeout(context.Background(), o.timeout)
			c = &call{done: make(chan struct{}), cancel: cancel}
			o.inflight[id] = c
			go o.run(runCtx, c, id, sourceURL)
		} else {
			o.log.Debug("Joining in-flight download", "id", id)
		}
		c.waiters++
		o.mu.Unlock()

		select {
		case <-c.done:
			o.leave(c)
			return c.path, c.err
		case <-ctx.Done():
			o.leave(c)
			return "", &Error{ID: id, Err: ctx.Err()}
		}
	}
}

// InFlight reports how many extractions are currently running.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// Spawned reports how many processes have been started.
func (o *Orchestrator) Spawned() int64 {
	return o.spawned.Load()
}

func (o *Orchestrator) leave(c *call) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c.waiters--
	if c.waiters > 0 {
		return
	}
	select {
	case <-c.done:
	default:
		c.abandoned = true
		c.cancel()
	}
}

func (o *Orchestrator) run(ctx context.Context, c *call, id, sourceURL string) {
	defer c.cancel()

	path := o.store.PathFor(id)
	err := o.limiter.Wait(ctx)
	if err == nil {
		o.spawned.Add(1)
		o.log.Info("Downloading", "id", id)
		start := time.Now()
		err = o.runner.Run(ctx, sourceURL, path, func(stream, line string) {
			o.log.Debug(line, "id", id, "stream", stream)
		})
		if err == nil {
			if info, statErr := os.Stat(path); statErr != nil || info.Size() == 0 {
				err = ErrMissingOutput
			}
		}
		if err == nil {
			o.log.Info("Download finished", "id", id, "took", time.Since(start).Round(time.Millisecond))
		}
	}

	if err != nil {
		for _, p := range []string{path, path + ".part"} {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				o.log.Warn("Failed to remove partial download", "path", p, "error", rmErr)
			}
		}
		o.log.Warn("Download failed", "id", id, "error", err)
		c.err = &Error{ID: id, Err: err}
	} else {
		c.path = path
	}

	o.mu.Lock()
	delete(o.inflight, id)
	close(c.done)
	o.mu.Unlock()
}
