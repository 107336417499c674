package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/leeineian/jukebox/audio"
	"github.com/leeineian/jukebox/audio/transcode"
	"github.com/leeineian/jukebox/extract"
	"github.com/leeineian/jukebox/home"
	"github.com/leeineian/jukebox/media"
	"github.com/leeineian/jukebox/proc"
	"github.com/leeineian/jukebox/sys"
)

const playerShutdownTimeout = 10 * time.Second

var playerOnce sync.Once

func init() {
	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		playerOnce.Do(func() { startPlayer(ctx, client) })
	})
}

func startPlayer(ctx context.Context, client *bot.Client) {
	p, notifier, err := buildPlayer(ctx, sys.GlobalConfig, client)
	if err != nil {
		sys.LogError(sys.MsgVoiceSetupFail, err)
		return
	}
	home.SetPlayer(p)

	sys.RegisterDaemon(sys.LogVoice, func(ctx context.Context) (bool, func(), func()) {
		run := func() { notifier.Run(ctx) }
		shutdown := func() {
			sctx, cancel := context.WithTimeout(context.Background(), playerShutdownTimeout)
			defer cancel()
			p.Controller.Shutdown(sctx)
		}
		return true, run, shutdown
	})
	sys.RegisterDaemon(sys.LogLoader, func(ctx context.Context) (bool, func(), func()) {
		return true, func() { home.RunPresence(ctx, client) }, nil
	})
}

func buildPlayer(ctx context.Context, cfg *sys.Config, client *bot.Client) (*home.Player, *home.Notifier, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration not loaded")
	}

	var index media.Index
	if sys.DB != nil {
		index = sys.NewCacheIndex(sys.DB)
	}
	cache, err := media.NewCache(cfg.AudioCacheDir, index, sys.ComponentLogger("cache"))
	if err != nil {
		return nil, nil, err
	}
	if _, err := cache.Warm(ctx); err != nil {
		sys.LogWarn(sys.MsgVoiceCacheFail, err)
	}

	opts := extract.Options{Executable: cfg.YtdlpPath, Proxy: cfg.YoutubeProxy}
	extractor := extract.NewOrchestrator(extract.Config{
		Runner:  extract.YtdlpRunner{Options: opts},
		Store:   cache,
		Timeout: cfg.ExtractTimeout,
		Rate:    cfg.ExtractRate,
		Burst:   cfg.ExtractBurst,
		Logger:  sys.ComponentLogger("extract"),
	})

	notifier := home.NewNotifier(client.Rest, sys.ComponentLogger("queue"))

	ctrl := proc.NewController(proc.Config{
		Transport: audio.NewTransport(client, openDecoder, sys.ComponentLogger("voice")),
		Extractor: extractor,
		Cache:     cache,
		Resolver:  media.NewResolver(sys.ComponentLogger("resolve"), opts.Command),
		Notifier:  notifier,
		Logger:    sys.ComponentLogger("queue"),
	})

	return &home.Player{Controller: ctrl, Extractor: extractor, Cache: cache}, notifier, nil
}

// openDecoder keeps a failed Open from surfacing as a typed nil Decoder.
func openDecoder(path string) (audio.Decoder, error) {
	t, err := transcode.Open(path)
	if err != nil {
		return nil, err
	}
	return t, nil
}
