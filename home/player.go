package home

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/jukebox/extract"
	"github.com/leeineian/jukebox/media"
	"github.com/leeineian/jukebox/proc"
	"github.com/leeineian/jukebox/sys"
)

// Player is the running playback stack the commands talk to.
type Player struct {
	Controller *proc.Controller
	Extractor  *extract.Orchestrator
	Cache      *media.Cache
}

var (
	playerMu sync.RWMutex
	player   *Player
)

// SetPlayer installs the playback stack once the client is ready.
func SetPlayer(p *Player) {
	playerMu.Lock()
	player = p
	playerMu.Unlock()
}

func currentPlayer() *Player {
	playerMu.RLock()
	defer playerMu.RUnlock()
	return player
}

// userVoiceChannel returns the voice channel the user is connected to in
// the guild, or nil.
func userVoiceChannel(client *bot.Client, guildID, userID snowflake.ID) *snowflake.ID {
	vs, ok := client.Caches.VoiceState(guildID, userID)
	if !ok {
		return nil
	}
	return vs.ChannelID
}

// play submits a request and returns the text to show the requester.
func play(ctx context.Context, p *Player, req proc.Request) string {
	if p == nil {
		return sys.MsgVoiceNotReady
	}
	res, err := p.Controller.EnqueueOrStart(ctx, req)
	return playReply(res, err)
}

func playReply(res proc.Result, err error) string {
	if err != nil {
		return errorReply(err)
	}
	if res.Started {
		return fmt.Sprintf(proc.MsgPreparing, res.Item.DisplayTitle())
	}
	return fmt.Sprintf(proc.MsgQueued, res.Item.DisplayTitle(), res.Position)
}

// errorReply maps controller errors to the text shown in the channel.
func errorReply(err error) string {
	var resErr *proc.ResolutionError
	switch {
	case errors.Is(err, proc.ErrNoChannel):
		return proc.MsgNoChannel
	case errors.Is(err, proc.ErrEmptyQuery):
		return proc.MsgEmptyQuery
	case errors.Is(err, proc.ErrNotPlaying):
		return proc.MsgNotPlaying
	case errors.As(err, &resErr):
		return fmt.Sprintf(proc.MsgPlayError, resErr.Err)
	default:
		return fmt.Sprintf(proc.MsgPlayError, err)
	}
}

func stop(ctx context.Context, p *Player, guildID snowflake.ID) string {
	if p == nil {
		return sys.MsgVoiceNotReady
	}
	return p.Controller.Stop(ctx, guildID).String()
}

func skip(p *Player, guildID snowflake.ID) string {
	if p == nil {
		return sys.MsgVoiceNotReady
	}
	item, err := p.Controller.Skip(guildID)
	if err != nil {
		return errorReply(err)
	}
	return fmt.Sprintf(sys.MsgVoiceSkipped, item.DisplayTitle())
}

const queueListLimit = 10

func queueListing(p *Player, guildID snowflake.ID) string {
	if p == nil {
		return sys.MsgVoiceNotReady
	}
	items, ok := p.Controller.Snapshot(guildID)
	if !ok {
		return proc.MsgQueueEmpty
	}
	return formatQueue(items)
}

func formatQueue(items []media.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, sys.MsgVoiceQueueHeader, len(items))
	for i, it := range items {
		if i == queueListLimit {
			b.WriteString("\n")
			fmt.Fprintf(&b, sys.MsgVoiceQueueMore, len(items)-queueListLimit)
			break
		}
		marker := fmt.Sprintf("`%d.`", i+1)
		if i == 0 {
			marker = "▶️"
		}
		fmt.Fprintf(&b, "\n%s [%s](<%s>)", marker, it.DisplayTitle(), it.SourceURL)
	}
	return b.String()
}
