package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/leeineian/jukebox/sys"
)

func init() {
	voicePerm := discord.PermissionConnect | discord.PermissionSpeak

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "voice",
		Description:              "Music playback",
		DefaultMemberPermissions: omit.New(&voicePerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a YouTube link or search term, or add it to the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "query",
						Description: "The URL or song name to play",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback, clear the queue and leave",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Show player statistics",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}

		switch *data.SubCommandName {
		case "play":
			handleVoicePlay(event, data)
		case "stop":
			handleVoiceStop(event, data)
		case "queue":
			handleVoiceQueue(event, data)
		case "skip":
			handleVoiceSkip(event, data)
		case "stats":
			handleVoiceStats(event, data)
		}
	})
}

// reply answers an interaction with plain content.
func reply(event *events.ApplicationCommandInteractionCreate, content string) {
	if err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		Build()); err != nil {
		sys.LogDebug("Failed to reply to /voice: %v", err)
	}
}
