package proc

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/leeineian/jukebox/media"
)

var errPipelinePanic = errors.New("internal error")

// launch runs the pipeline for the head of sq in its own goroutine. A panic
// is contained to this run and still advances the queue.
func (c *Controller) launch(sq *SessionQueue, run uint64) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("Pipeline panic recovered", "session", sq.SessionID, "panic", r)
				fmt.Printf("%s\n", debug.Stack())
				c.advance(sq, run, playError(errPipelinePanic))
			}
		}()
		c.runHead(sq, run)
	}()
}

// head returns the item at the front of the backlog if run is current.
func (c *Controller) head(sq *SessionQueue, run uint64) (media.Item, bool) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if !c.reg.isCurrent(sq, run) || len(sq.backlog) == 0 {
		return media.Item{}, false
	}
	return sq.backlog[0], true
}

// status posts a status update if run is still current.
func (c *Controller) status(sq *SessionQueue, run uint64, content string) bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if !c.reg.isCurrent(sq, run) {
		return false
	}
	c.notifier.Status(sq.SessionID, sq.TextChannelID, content)
	return true
}

func (c *Controller) runHead(sq *SessionQueue, run uint64) {
	item, ok := c.head(sq, run)
	if !ok {
		return
	}
	title := item.DisplayTitle()

	path, cached := c.cache.Lookup(item.ID)
	if !cached {
		if !c.status(sq, run, fmt.Sprintf(MsgDownloading, title)) {
			return
		}
		var err error
		path, err = c.extractor.Extract(sq.ctx, item.ID, item.SourceURL)
		if err != nil {
			c.log.Warn("Acquire failed", "session", sq.SessionID, "id", item.ID, "error", err)
			c.advance(sq, run, playError(err))
			return
		}
		c.cache.Put(item.ID, path)
	} else {
		c.log.Debug("Cache hit", "session", sq.SessionID, "id", item.ID)
	}

	c.reg.mu.Lock()
	if !c.reg.isCurrent(sq, run) {
		c.reg.mu.Unlock()
		return
	}
	dev := sq.device
	c.notifier.Status(sq.SessionID, sq.TextChannelID, fmt.Sprintf(MsgNowPlaying, title))
	c.reg.mu.Unlock()

	c.log.Info("Now playing", "session", sq.SessionID, "id", item.ID, "title", title)
	if err := dev.Start(path, func(ev Event) { c.onEvent(sq, run, ev) }); err != nil {
		c.log.Warn("Playback failed to start", "session", sq.SessionID, "id", item.ID, "error", err)
		c.advance(sq, run, playError(err))
		return
	}

	// Skippable only once the device can be halted. The run may already
	// have ended if playback finished immediately.
	c.reg.mu.Lock()
	if c.reg.isCurrent(sq, run) {
		sq.playing = true
	}
	c.reg.mu.Unlock()
}

func (c *Controller) onEvent(sq *SessionQueue, run uint64, ev Event) {
	c.log.Debug("Playback ended", "session", sq.SessionID, "run", run, "outcome", ev.Kind)
	if ev.Kind == Errored {
		c.advance(sq, run, playError(ev.Err))
		return
	}
	c.advance(sq, run, "")
}
