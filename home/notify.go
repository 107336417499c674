package home

import (
	"context"
	"log/slog"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

const notifyBuffer = 256

// Messenger is the part of the REST client the notifier needs.
type Messenger interface {
	CreateMessage(channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt) (*discord.Message, error)
	UpdateMessage(channelID snowflake.ID, messageID snowflake.ID, messageUpdate discord.MessageUpdate, opts ...rest.RequestOpt) (*discord.Message, error)
}

type noteKind int

const (
	noteMessage noteKind = iota
	noteStatus
	noteRelease
)

type note struct {
	kind      noteKind
	sessionID snowflake.ID
	channelID snowflake.ID
	content   string
}

type statusMessage struct {
	channelID snowflake.ID
	messageID snowflake.ID
}

// Notifier posts queue notifications to text channels from a single
// worker, so callers never wait on Discord. Each session keeps one status
// message that is edited in place as its head item moves from downloading
// to playing.
type Notifier struct {
	rest  Messenger
	log   *slog.Logger
	notes chan note

	// owned by the worker
	status map[snowflake.ID]statusMessage
}

func NewNotifier(rest Messenger, log *slog.Logger) *Notifier {
	return &Notifier{
		rest:   rest,
		log:    log,
		notes:  make(chan note, notifyBuffer),
		status: make(map[snowflake.ID]statusMessage),
	}
}

func (n *Notifier) Notify(channelID snowflake.ID, content string) {
	n.enqueue(note{kind: noteMessage, channelID: channelID, content: content})
}

func (n *Notifier) Status(sessionID, channelID snowflake.ID, content string) {
	n.enqueue(note{kind: noteStatus, sessionID: sessionID, channelID: channelID, content: content})
}

func (n *Notifier) Release(sessionID snowflake.ID) {
	n.enqueue(note{kind: noteRelease, sessionID: sessionID})
}

func (n *Notifier) enqueue(nt note) {
	select {
	case n.notes <- nt:
	default:
		n.log.Warn("Notification dropped", "channel", nt.channelID, "kind", nt.kind)
	}
}

// Run delivers notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case nt := <-n.notes:
			n.deliver(nt)
		case <-ctx.Done():
			return
		}
	}
}

func (n *Notifier) deliver(nt note) {
	switch nt.kind {
	case noteMessage:
		n.post(nt.channelID, nt.content)
	case noteStatus:
		if sm, ok := n.status[nt.sessionID]; ok && sm.channelID == nt.channelID {
			_, err := n.rest.UpdateMessage(sm.channelID, sm.messageID, discord.NewMessageUpdateBuilder().
				SetContent(nt.content).
				Build())
			if err == nil {
				return
			}
			n.log.Debug("Status message gone, posting a new one", "session", nt.sessionID, "error", err)
		}
		if msg := n.post(nt.channelID, nt.content); msg != nil {
			n.status[nt.sessionID] = statusMessage{channelID: nt.channelID, messageID: msg.ID}
		}
	case noteRelease:
		delete(n.status, nt.sessionID)
	}
}

func (n *Notifier) post(channelID snowflake.ID, content string) *discord.Message {
	msg, err := n.rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetContent(content).
		Build())
	if err != nil {
		n.log.Warn("Failed to post notification", "channel", channelID, "error", err)
		return nil
	}
	return msg
}
