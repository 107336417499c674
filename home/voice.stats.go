package home

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/jukebox/sys"
)

const (
	statsAnsiReset    = "\u001b[0m"
	statsAnsiPink     = "\u001b[35m"
	statsAnsiPinkBold = "\u001b[35;1m"
)

var statsStartTime = time.Now().UTC()

func statsTitle(text string) string {
	return fmt.Sprintf("%s%s%s", statsAnsiPink, text, statsAnsiReset)
}

func statsLine(key, val string) string {
	return fmt.Sprintf("%s> %s:%s %s%s%s", statsAnsiPink, key, statsAnsiReset, statsAnsiPinkBold, val, statsAnsiReset)
}

func handleVoiceStats(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	content := renderPlayerStats(currentPlayer(), event.Client().Gateway.Latency())

	err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		SetEphemeral(true).
		AddComponents(
			discord.NewContainer(
				discord.NewTextDisplay(content),
			),
		).
		Build())
	if err != nil {
		sys.LogDebug("Failed to send player stats: %v", err)
	}
}

func renderPlayerStats(p *Player, gateway time.Duration) string {
	uptime := time.Since(statsStartTime)
	lines := []string{
		statsTitle("Player"),
		statsLine("Uptime", fmt.Sprintf("%dd %dh %dm", int(uptime.Hours())/24, int(uptime.Hours())%24, int(uptime.Minutes())%60)),
		statsLine("Goroutines", fmt.Sprintf("%d", runtime.NumGoroutine())),
	}
	if gateway > 0 {
		lines = append(lines, statsLine("Gateway", fmt.Sprintf("%dms", gateway.Milliseconds())))
	}

	if p == nil {
		lines = append(lines, statsLine("State", "starting"))
	} else {
		lines = append(lines,
			statsLine("Sessions", fmt.Sprintf("%d", p.Controller.Registry().Len())),
			statsLine("Downloads", fmt.Sprintf("%d running, %d total", p.Extractor.InFlight(), p.Extractor.Spawned())),
			statsLine("Cached", fmt.Sprintf("%d tracks", p.Cache.Len())),
		)
	}

	return fmt.Sprintf("```ansi\n%s\n```", strings.Join(lines, "\n"))
}
