package home

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/jukebox/sys"
)

const presenceInterval = 30 * time.Second

// presenceText describes what the bot is doing given the number of active
// sessions.
func presenceText(sessions int, prefix string) string {
	switch {
	case sessions == 1:
		return "music in 1 server"
	case sessions > 1:
		return fmt.Sprintf("music in %d servers", sessions)
	default:
		return prefix + "play"
	}
}

// RunPresence keeps the bot's activity in line with the number of active
// sessions until ctx is done.
func RunPresence(ctx context.Context, client *bot.Client) {
	last := ""
	for {
		if p := currentPlayer(); p != nil {
			prefix := sys.DefaultCommandPrefix
			if sys.GlobalConfig != nil {
				prefix = sys.GlobalConfig.CommandPrefix
			}
			text := presenceText(p.Controller.Registry().Len(), prefix)
			if text != last {
				err := client.SetPresence(ctx,
					gateway.WithOnlineStatus(discord.OnlineStatusOnline),
					gateway.WithPlayingActivity(text),
				)
				if err != nil {
					sys.LogWarn(sys.MsgPresenceFail, err)
				} else {
					last = text
					sys.LogDebug(sys.MsgPresenceUpdated, text)
				}
			}
		}

		select {
		case <-time.After(presenceInterval):
		case <-ctx.Done():
			return
		}
	}
}
