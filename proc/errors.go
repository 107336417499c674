package proc

import (
	"errors"
	"fmt"
)

var (
	ErrNoChannel  = errors.New("requester is not in a voice channel")
	ErrEmptyQuery = errors.New("empty query")
	ErrNotPlaying = errors.New("nothing is playing")

	errStoppedDuringSetup = errors.New("stopped before the voice connection was ready")
)

// SetupError means the voice transport could not be opened. No session
// remains registered afterwards.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("could not join the voice channel: %v", e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ResolutionError means the query could not be turned into an item.
type ResolutionError struct {
	Query string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Query, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// User-facing notification texts.
const (
	MsgPreparing   = "🔄 Preparing to play: **%s**"
	MsgDownloading = "🔄 Downloading: **%s**"
	MsgNowPlaying  = "🎶 Now playing: **%s**"
	MsgQueued      = "🎵 Added to queue: **%s** (position %d)"
	MsgPlayError   = "Error playing song: %v"
	MsgStopped     = "Stopped and left the channel!"
	MsgSkipped     = "⏭️ Skipped."
	MsgQueueEmpty  = "Nothing is playing!"

	MsgNoChannel    = "You need to be in a voice channel!"
	MsgEmptyQuery   = "Please provide a YouTube URL or search term!"
	MsgNotPlaying   = "Nothing is playing!"
	MsgDisconnected = "👋 Disconnected from the voice channel, queue cleared."
)
