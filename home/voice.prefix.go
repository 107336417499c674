package home

import (
	"context"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/jukebox/proc"
	"github.com/leeineian/jukebox/sys"
)

func init() {
	sys.RegisterMessageHandler(handlePrefixCommand)
}

// parsePrefixCommand splits "!play some song" into ("play", "some song").
// ok is false when content does not start with prefix.
func parsePrefixCommand(content, prefix string) (name, args string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(content), prefix)
	if !found || prefix == "" {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(args), true
}

func handlePrefixCommand(event *events.MessageCreate) {
	prefix := sys.DefaultCommandPrefix
	if sys.GlobalConfig != nil {
		prefix = sys.GlobalConfig.CommandPrefix
	}
	name, args, ok := parsePrefixCommand(event.Message.Content, prefix)
	if !ok {
		return
	}
	guildID := *event.GuildID

	var content string
	switch name {
	case "play":
		content = play(context.Background(), currentPlayer(), proc.Request{
			SessionID:      guildID,
			VoiceChannelID: userVoiceChannel(event.Client(), guildID, event.Message.Author.ID),
			TextChannelID:  event.ChannelID,
			Query:          args,
		})
	case "stop":
		content = stop(context.Background(), currentPlayer(), guildID)
	case "skip":
		content = skip(currentPlayer(), guildID)
	case "queue":
		content = queueListing(currentPlayer(), guildID)
	default:
		return
	}

	if _, err := event.Client().Rest.CreateMessage(event.ChannelID, discord.NewMessageCreateBuilder().
		SetContent(content).
		Build()); err != nil {
		sys.LogDebug("Failed to answer %s%s: %v", prefix, name, err)
	}
}
