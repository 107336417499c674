package home

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/jukebox/proc"
	"github.com/leeineian/jukebox/sys"
)

func handleVoicePlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query, _ := data.OptString("query")
	guildID := *event.GuildID()

	// Resolution and joining can take a while
	_ = event.DeferCreateMessage(false)

	req := proc.Request{
		SessionID:      guildID,
		VoiceChannelID: userVoiceChannel(event.Client(), guildID, event.User().ID),
		TextChannelID:  event.Channel().ID(),
		Query:          query,
	}
	content := play(context.Background(), currentPlayer(), req)

	if _, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent(content).
		Build()); err != nil {
		sys.LogDebug("Failed to update /voice play response: %v", err)
	}
}
