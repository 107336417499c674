package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/jukebox/proc"
)

const (
	joinAttempts = 3
	joinTimeout  = 15 * time.Second
)

// Transport opens Discord voice connections for the queue controller.
type Transport struct {
	client *bot.Client
	open   OpenFunc
	log    *slog.Logger
}

func NewTransport(client *bot.Client, open OpenFunc, log *slog.Logger) *Transport {
	return &Transport{client: client, open: open, log: log}
}

func (t *Transport) Open(ctx context.Context, guildID, channelID snowflake.ID) (proc.Device, error) {
	t.log.Info("Joining channel", "guild", guildID, "channel", channelID)

	var lastErr error
	for attempt := 1; attempt <= joinAttempts; attempt++ {
		conn := t.client.VoiceManager.CreateConn(guildID)

		joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
		err := conn.Open(joinCtx, channelID, false, true)
		cancel()
		if err == nil {
			return NewDriver(&connSink{conn: conn}, t.open, t.log), nil
		}

		lastErr = err
		t.log.Warn("Failed to connect to voice", "guild", guildID, "attempt", attempt, "error", err)
		conn.Close(context.Background())

		if attempt < joinAttempts {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", joinAttempts, lastErr)
}

// connSink adapts a disgo voice connection to Sink.
type connSink struct {
	conn voice.Conn
}

func (s *connSink) Attach(p *StreamProvider) {
	s.setProvider(p)
	s.conn.SetSpeaking(context.TODO(), voice.SpeakingFlagMicrophone)
}

func (s *connSink) Detach() {
	s.setProvider(nil)
	s.conn.SetSpeaking(context.TODO(), 0)
}

func (s *connSink) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// setProvider recovers from panics raised by a connection that is
// already torn down.
func (s *connSink) setProvider(p *StreamProvider) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Recovered from panic in SetOpusFrameProvider", "panic", r)
		}
	}()
	if p == nil {
		s.conn.SetOpusFrameProvider(nil)
		return
	}
	s.conn.SetOpusFrameProvider(p)
}
