// Package proc owns the per-session playback queues and drives each head
// item through acquire, play and advance.
package proc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/jukebox/media"
)

// EventKind is the terminal outcome of one playback.
type EventKind int

const (
	Completed EventKind = iota
	Errored
)

func (k EventKind) String() string {
	if k == Errored {
		return "errored"
	}
	return "completed"
}

// Event is delivered exactly once for every successful Device.Start.
type Event struct {
	Kind EventKind
	Err  error
}

// Device plays one file at a time on an open voice connection.
type Device interface {
	Start(path string, onEvent func(Event)) error
	Halt()
	Close(ctx context.Context)
}

// Transport opens a playback device bound to a voice channel.
type Transport interface {
	Open(ctx context.Context, sessionID, channelID snowflake.ID) (Device, error)
}

// Notifier delivers status text to a session's text channel. Calls must
// not block.
type Notifier interface {
	Notify(channelID snowflake.ID, content string)
	Status(sessionID, channelID snowflake.ID, content string)
	Release(sessionID snowflake.ID)
}

type Resolver interface {
	Resolve(ctx context.Context, query string) (media.Item, error)
}

type Extractor interface {
	Extract(ctx context.Context, id, sourceURL string) (string, error)
}

// Cache only reports files whose extraction has finished. Misses go
// through the Extractor, which joins any extraction already running.
type Cache interface {
	Lookup(id string) (string, bool)
	Put(id, path string)
}

// Request asks for an item to be played in a session. Item, when set,
// skips resolution of Query.
type Request struct {
	SessionID      snowflake.ID
	VoiceChannelID *snowflake.ID
	TextChannelID  snowflake.ID
	Query          string
	Item           *media.Item
}

type Result struct {
	Item     media.Item
	Started  bool
	Position int
}

type StopResult int

const (
	Stopped StopResult = iota
	NothingPlaying
)

func (r StopResult) String() string {
	if r == NothingPlaying {
		return MsgQueueEmpty
	}
	return MsgStopped
}

type Config struct {
	Transport Transport
	Extractor Extractor
	Cache     Cache
	Resolver  Resolver
	Notifier  Notifier
	Registry  *Registry
	Logger    *slog.Logger
}

// Controller is the only writer of the registry.
type Controller struct {
	reg       *Registry
	transport Transport
	extractor Extractor
	cache     Cache
	resolver  Resolver
	notifier  Notifier
	log       *slog.Logger
}

func NewController(cfg Config) *Controller {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		reg:       cfg.Registry,
		transport: cfg.Transport,
		extractor: cfg.Extractor,
		cache:     cfg.Cache,
		resolver:  cfg.Resolver,
		notifier:  cfg.Notifier,
		log:       cfg.Logger,
	}
}

func (c *Controller) Registry() *Registry { return c.reg }

// EnqueueOrStart appends the requested item to the session's backlog, or
// creates the session and starts playback when none exists.
func (c *Controller) EnqueueOrStart(ctx context.Context, req Request) (Result, error) {
	if req.VoiceChannelID == nil {
		return Result{}, ErrNoChannel
	}

	var item media.Item
	if req.Item != nil {
		item = *req.Item
	} else {
		q := strings.TrimSpace(req.Query)
		if q == "" {
			return Result{}, ErrEmptyQuery
		}
		resolved, err := c.resolver.Resolve(ctx, q)
		if err != nil {
			c.log.Warn("Could not resolve query", "session", req.SessionID, "query", q, "error", err)
			return Result{}, &ResolutionError{Query: q, Err: err}
		}
		item = resolved
	}

	c.reg.mu.Lock()
	if sq, ok := c.reg.sessions[req.SessionID]; ok {
		sq.backlog = append(sq.backlog, item)
		pos := len(sq.backlog)
		c.reg.mu.Unlock()
		c.log.Info("Queued", "session", req.SessionID, "id", item.ID, "position", pos)
		return Result{Item: item, Position: pos}, nil
	}

	sq := newSessionQueue(req.SessionID, *req.VoiceChannelID, req.TextChannelID, item)
	c.reg.sessions[req.SessionID] = sq
	c.reg.mu.Unlock()

	c.log.Info("Session created", "session", sq.SessionID, "channel", sq.ChannelID, "generation", sq.Generation)

	dev, err := c.transport.Open(ctx, sq.SessionID, sq.ChannelID)

	c.reg.mu.Lock()
	live, ok := c.reg.sessions[sq.SessionID]
	current := ok && live.Generation == sq.Generation
	if err != nil || !current {
		c.reg.detach(sq)
		c.reg.mu.Unlock()
		if err == nil {
			dev.Close(context.Background())
			err = errStoppedDuringSetup
		}
		c.log.Warn("Session setup failed", "session", sq.SessionID, "error", err)
		return Result{}, &SetupError{Err: err}
	}
	sq.device = dev
	run := sq.nextRun()
	c.reg.mu.Unlock()

	c.launch(sq, run)
	return Result{Item: item, Started: true, Position: 1}, nil
}

// Stop clears the session, halts playback and closes the transport.
// In-flight extraction for the session is abandoned, not awaited.
func (c *Controller) Stop(ctx context.Context, sessionID snowflake.ID) StopResult {
	if !c.teardown(ctx, sessionID, "", false) {
		return NothingPlaying
	}
	return Stopped
}

// Disconnected tears down a session whose voice connection was closed
// from outside, for example by a moderator. Sessions still joining are
// left alone: their transport reports its own failure.
func (c *Controller) Disconnected(ctx context.Context, sessionID snowflake.ID) bool {
	return c.teardown(ctx, sessionID, MsgDisconnected, true)
}

func (c *Controller) teardown(ctx context.Context, sessionID snowflake.ID, notice string, connectedOnly bool) bool {
	c.reg.mu.Lock()
	sq, ok := c.reg.sessions[sessionID]
	if !ok || (connectedOnly && sq.device == nil) {
		c.reg.mu.Unlock()
		return false
	}
	if notice != "" {
		c.notifier.Notify(sq.TextChannelID, notice)
	}
	c.reg.detach(sq)
	dev := sq.device
	c.reg.mu.Unlock()

	if dev != nil {
		dev.Halt()
		dev.Close(ctx)
	}
	c.notifier.Release(sessionID)
	c.log.Info("Session stopped", "session", sessionID, "generation", sq.Generation, "external", connectedOnly)
	return true
}

// Skip halts the current playback; the resulting terminal event advances
// the queue.
func (c *Controller) Skip(sessionID snowflake.ID) (media.Item, error) {
	c.reg.mu.Lock()
	sq, ok := c.reg.sessions[sessionID]
	if !ok || !sq.playing || len(sq.backlog) == 0 {
		c.reg.mu.Unlock()
		return media.Item{}, ErrNotPlaying
	}
	head := sq.backlog[0]
	dev := sq.device
	c.reg.mu.Unlock()

	dev.Halt()
	return head, nil
}

// Snapshot returns a copy of the session's backlog, head first.
func (c *Controller) Snapshot(sessionID snowflake.ID) ([]media.Item, bool) {
	return c.reg.Backlog(sessionID)
}

// Shutdown stops every session.
func (c *Controller) Shutdown(ctx context.Context) {
	c.reg.mu.Lock()
	ids := make([]snowflake.ID, 0, len(c.reg.sessions))
	for id := range c.reg.sessions {
		ids = append(ids, id)
	}
	c.reg.mu.Unlock()

	for _, id := range ids {
		c.Stop(ctx, id)
	}
}

// advance pops the head of sq exactly once for run. Stale calls are
// ignored. notice, when set, is posted before the pop.
func (c *Controller) advance(sq *SessionQueue, run uint64, notice string) {
	c.reg.mu.Lock()
	if !c.reg.isCurrent(sq, run) {
		c.reg.mu.Unlock()
		c.log.Debug("Ignoring stale event", "session", sq.SessionID, "run", run)
		return
	}

	if notice != "" {
		c.notifier.Notify(sq.TextChannelID, notice)
	}

	sq.backlog = sq.backlog[1:]
	if len(sq.backlog) == 0 {
		c.reg.detach(sq)
		dev := sq.device
		c.reg.mu.Unlock()

		if dev != nil {
			dev.Close(context.Background())
		}
		c.notifier.Release(sq.SessionID)
		c.log.Info("Queue finished", "session", sq.SessionID)
		return
	}

	next := sq.nextRun()
	c.reg.mu.Unlock()
	c.launch(sq, next)
}

func playError(err error) string {
	return fmt.Sprintf(MsgPlayError, err)
}
