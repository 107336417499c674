package home

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

func handleVoiceStop(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	reply(event, stop(context.Background(), currentPlayer(), *event.GuildID()))
}

func handleVoiceSkip(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	reply(event, skip(currentPlayer(), *event.GuildID()))
}

func handleVoiceQueue(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	reply(event, queueListing(currentPlayer(), *event.GuildID()))
}
