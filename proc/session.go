package proc

import (
	"context"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/leeineian/jukebox/media"
)

// SessionQueue is the ordered backlog of one session. The head of backlog
// is the item being prepared or played. All fields after the identifiers
// are guarded by the owning Registry's mutex.
type SessionQueue struct {
	SessionID     snowflake.ID
	ChannelID     snowflake.ID
	TextChannelID snowflake.ID
	Generation    uuid.UUID

	backlog []media.Item
	device  Device
	playing bool
	seq     uint64

	ctx    context.Context
	cancel context.CancelFunc
}

func newSessionQueue(sessionID, channelID, textChannelID snowflake.ID, first media.Item) *SessionQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionQueue{
		SessionID:     sessionID,
		ChannelID:     channelID,
		TextChannelID: textChannelID,
		Generation:    uuid.New(),
		backlog:       []media.Item{first},
		ctx:           ctx,
		cancel:        cancel,
	}
}

// nextRun starts a new pipeline run for the current head.
func (sq *SessionQueue) nextRun() uint64 {
	sq.seq++
	sq.playing = false
	return sq.seq
}

// Registry maps session ids to their live queue.
type Registry struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*SessionQueue
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[snowflake.ID]*SessionQueue)}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Has(sessionID snowflake.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Backlog returns a copy of the session's backlog, head first.
func (r *Registry) Backlog(sessionID snowflake.ID) ([]media.Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sq, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return append([]media.Item(nil), sq.backlog...), true
}

// isCurrent reports whether sq's generation is still the registered one
// and run is its latest pipeline run. Caller holds r.mu.
func (r *Registry) isCurrent(sq *SessionQueue, run uint64) bool {
	live, ok := r.sessions[sq.SessionID]
	return ok && live.Generation == sq.Generation && live.seq == run
}

// detach removes sq if its generation is the registered one. Caller holds
// r.mu.
func (r *Registry) detach(sq *SessionQueue) bool {
	if live, ok := r.sessions[sq.SessionID]; !ok || live.Generation != sq.Generation {
		return false
	}
	delete(r.sessions, sq.SessionID)
	sq.backlog = nil
	sq.playing = false
	sq.cancel()
	return true
}
