package sys

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/jukebox/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := configFromEnv(envOf(map[string]string{
		"DISCORD_TOKEN": "token",
		"DATABASE_PATH": "bot.db",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAudioCacheDir, cfg.AudioCacheDir)
	assert.Equal(t, DefaultExtractTimeout, cfg.ExtractTimeout)
	assert.Equal(t, DefaultExtractRate, cfg.ExtractRate)
	assert.Equal(t, DefaultExtractBurst, cfg.ExtractBurst)
	assert.Equal(t, DefaultCommandPrefix, cfg.CommandPrefix)
	assert.False(t, cfg.Silent)
}

func TestConfigOverrides(t *testing.T) {
	cfg, err := configFromEnv(envOf(map[string]string{
		"DISCORD_TOKEN":   "token",
		"DATABASE_PATH":   "bot.db",
		"GUILD_ID":        "123456789012345678",
		"SILENT":          "true",
		"AUDIO_CACHE_DIR": "/var/cache/tracks",
		"YTDLP_PATH":      "/usr/local/bin/yt-dlp",
		"YOUTUBE_PROXY":   "socks5://127.0.0.1:1080",
		"EXTRACT_TIMEOUT": "90s",
		"EXTRACT_RATE":    "0.5",
		"COMMAND_PREFIX":  " ? ",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Silent)
	assert.Equal(t, "/var/cache/tracks", cfg.AudioCacheDir)
	assert.Equal(t, "/usr/local/bin/yt-dlp", cfg.YtdlpPath)
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.YoutubeProxy)
	assert.Equal(t, 90*time.Second, cfg.ExtractTimeout)
	assert.Equal(t, 0.5, cfg.ExtractRate)
	assert.Equal(t, "?", cfg.CommandPrefix)
}

func TestConfigRejectsBadValues(t *testing.T) {
	_, err := configFromEnv(envOf(map[string]string{"EXTRACT_TIMEOUT": "soon"}))
	assert.ErrorContains(t, err, "EXTRACT_TIMEOUT")

	_, err = configFromEnv(envOf(map[string]string{"EXTRACT_RATE": "fast"}))
	assert.ErrorContains(t, err, "EXTRACT_RATE")

	cfg, err := configFromEnv(envOf(map[string]string{"DATABASE_PATH": "bot.db"}))
	require.NoError(t, err)
	assert.EqualError(t, cfg.Validate(), MsgConfigMissingToken)

	cfg.Token = "token"
	cfg.GuildID = "42"
	assert.ErrorContains(t, cfg.Validate(), "GUILD_ID")

	cfg.GuildID = ""
	cfg.ExtractRate = 0
	assert.ErrorContains(t, cfg.Validate(), "EXTRACT_RATE")
}

func TestLogHandlerRendersComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewBotLogHandler(&buf, &BotLogHandlerOptions{Level: slog.LevelDebug})).
		With(slog.String("component", "queue"))

	log.Info("Queued", "session", 42, "position", 2)

	out := NewStripANSIWriter(&bytes.Buffer{}).re.ReplaceAllString(buf.String(), "")
	assert.Contains(t, out, "[QUEUE] Queued")
	assert.Contains(t, out, "session=42")
	assert.Contains(t, out, "position=2")
	assert.NotContains(t, out, "component=")
}

func TestLogHandlerSilent(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewBotLogHandler(&buf, &BotLogHandlerOptions{Silent: true, Level: slog.LevelInfo}))
	log.Error("nobody hears this")
	assert.Empty(t, buf.String())
}

func TestStripANSIWriter(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewStripANSIWriter(&buf).Write([]byte("\x1b[35mpink\x1b[0m text"))
	require.NoError(t, err)
	assert.Equal(t, len("\x1b[35mpink\x1b[0m text"), n)
	assert.Equal(t, "pink text", buf.String())
}

func TestDatabaseConfigAndCacheIndex(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, InitDatabase(ctx, filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(CloseDatabase)

	v, err := GetBotConfig(ctx, "last_cmd_hash")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, SetBotConfig(ctx, "last_cmd_hash", "abc"))
	require.NoError(t, SetBotConfig(ctx, "last_cmd_hash", "def"))
	v, err = GetBotConfig(ctx, "last_cmd_hash")
	require.NoError(t, err)
	assert.Equal(t, "def", v)

	idx := NewCacheIndex(DB)
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, idx.Record(ctx, media.CacheRecord{ID: "aaaaaaaaaaa", Path: "/t/aaaaaaaaaaa.mp3", Size: 10, StoredAt: first}))
	require.NoError(t, idx.Record(ctx, media.CacheRecord{ID: "bbbbbbbbbbb", Path: "/t/bbbbbbbbbbb.mp3", Size: 20, StoredAt: first.Add(time.Minute)}))
	require.NoError(t, idx.Record(ctx, media.CacheRecord{ID: "aaaaaaaaaaa", Path: "/t/aaaaaaaaaaa.mp3", Size: 11, StoredAt: first}))

	recs, err := idx.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "aaaaaaaaaaa", recs[0].ID)
	assert.Equal(t, int64(11), recs[0].Size)
	assert.Equal(t, "bbbbbbbbbbb", recs[1].ID)
	assert.True(t, strings.HasSuffix(recs[1].Path, ".mp3"))
}

func TestVoiceStateUpdateReachesEveryHandler(t *testing.T) {
	saved := voiceStateUpdateHandlers
	t.Cleanup(func() { voiceStateUpdateHandlers = saved })
	voiceStateUpdateHandlers = nil

	got := make(chan *events.GuildVoiceStateUpdate, 2)
	RegisterVoiceStateUpdateHandler(func(e *events.GuildVoiceStateUpdate) { got <- e })
	RegisterVoiceStateUpdateHandler(func(*events.GuildVoiceStateUpdate) { panic("handler failure") })
	RegisterVoiceStateUpdateHandler(func(e *events.GuildVoiceStateUpdate) { got <- e })

	event := &events.GuildVoiceStateUpdate{}
	onVoiceStateUpdate(event)

	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			assert.Same(t, event, e)
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not called")
		}
	}
}
