package home

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/jukebox/sys"
)

func init() {
	sys.RegisterVoiceStateUpdateHandler(onVoiceStateUpdate)
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if voiceDisconnect(context.Background(), currentPlayer(), event.Client().ID(), event.VoiceState) {
		sys.LogVoice("Bot disconnected by external event in guild %s", event.VoiceState.GuildID)
	}
}

// voiceDisconnect clears the guild's queue when the bot itself left voice
// without a stop command. Moves and other members' updates are ignored.
func voiceDisconnect(ctx context.Context, p *Player, selfID snowflake.ID, vs discord.VoiceState) bool {
	if p == nil || vs.UserID != selfID || vs.ChannelID != nil {
		return false
	}
	return p.Controller.Disconnected(ctx, vs.GuildID)
}
