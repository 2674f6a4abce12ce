package signaling

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Participant is one connected endpoint in a room. The Channel is owned
// exclusively by the participant and lives exactly as long as the
// membership does.
type Participant struct {
	UserID   string
	Role     ParticipantRole
	Channel  Channel
	JoinedAt time.Time
}

// Room holds the participant set for one active stream. Every membership
// mutation, peer-count computation and recipient snapshot is serialized
// through the room mutex, so no two concurrent joins can observe stale
// counts.
type Room struct {
	StreamID  string
	CreatedAt time.Time

	mu           sync.Mutex
	hostUserID   string
	participants map[string]*Participant
	peakViewers  int
}

func newRoom(streamID string) *Room {
	return &Room{
		StreamID:     streamID,
		CreatedAt:    time.Now(),
		participants: make(map[string]*Participant),
	}
}

// Add registers p, applying last-join-wins: a prior participant with the
// same user id, or the prior host when p is a host, is evicted and its
// channel returned for closing. The returned peerCount is the viewer-facing
// count after the add (host excluded).
func (r *Room) Add(p *Participant) (evicted []Channel, peerCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.participants[p.UserID]; ok {
		evicted = append(evicted, prior.Channel)
		delete(r.participants, p.UserID)
		if r.hostUserID == p.UserID {
			r.hostUserID = ""
		}
	}
	if p.Role == RoleHost && r.hostUserID != "" && r.hostUserID != p.UserID {
		if prior, ok := r.participants[r.hostUserID]; ok {
			evicted = append(evicted, prior.Channel)
			delete(r.participants, r.hostUserID)
		}
		r.hostUserID = ""
	}

	r.participants[p.UserID] = p
	if p.Role == RoleHost {
		r.hostUserID = p.UserID
	}
	peerCount = r.peerCountLocked()
	if peerCount > r.peakViewers {
		r.peakViewers = peerCount
	}
	return evicted, peerCount
}

// Remove deletes the participant with userID. When ch is non-nil the removal
// only applies if the registered channel is the same one; this keeps the
// disconnect of an evicted stale channel from removing its replacement.
// Remove is idempotent: removed is nil when nothing matched.
func (r *Room) Remove(userID string, ch Channel) (removed *Participant, peerCount int, wasHost bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[userID]
	if !ok || (ch != nil && p.Channel != ch) {
		return nil, r.peerCountLocked(), false
	}
	delete(r.participants, userID)
	wasHost = r.hostUserID == userID
	if wasHost {
		r.hostUserID = ""
	}
	return p, r.peerCountLocked(), wasHost
}

// Drain removes every remaining participant and returns them, in no
// particular order. Used for host-departure teardown.
func (r *Room) Drain() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	r.participants = make(map[string]*Participant)
	r.hostUserID = ""
	return out
}

// Get returns the participant with userID, or nil.
func (r *Room) Get(userID string) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[userID]
}

// Recipients returns the channels of every participant except those listed
// in skip.
func (r *Room) Recipients(skip ...string) []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Channel, 0, len(r.participants))
	for id, p := range r.participants {
		skipped := false
		for _, s := range skip {
			if id == s {
				skipped = true
				break
			}
		}
		if !skipped {
			out = append(out, p.Channel)
		}
	}
	return out
}

// PeerCount is the viewer-facing participant count: total participants
// minus the host when one is present.
func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerCountLocked()
}

// PeakViewers is the highest peer count the room has seen. Non-decreasing.
func (r *Room) PeakViewers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peakViewers
}

// HostUserID returns the current host's user id, or "" when no host is
// registered.
func (r *Room) HostUserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostUserID
}

// Empty reports whether the room has no participants.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) == 0
}

func (r *Room) peerCountLocked() int {
	n := len(r.participants)
	if r.hostUserID != "" {
		n--
	}
	return n
}

// Registry is the thread-safe store of active rooms keyed by stream id.
// Constructed once at startup and injected into connection handlers.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	logger *zap.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// GetOrCreateRoom returns the room for streamID, creating an empty one when
// absent. Idempotent.
func (g *Registry) GetOrCreateRoom(streamID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[streamID]; ok {
		return r
	}
	r := newRoom(streamID)
	g.rooms[streamID] = r
	g.logger.Debug("room created", zap.String("stream_id", streamID))
	return r
}

// Room returns the room for streamID, or nil.
func (g *Registry) Room(streamID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[streamID]
}

// RemoveRoom deletes the room unconditionally (host-departure teardown).
func (g *Registry) RemoveRoom(streamID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rooms[streamID]; ok {
		delete(g.rooms, streamID)
		g.logger.Debug("room removed", zap.String("stream_id", streamID))
	}
}

// RemoveRoomIfEmpty deletes the room when it has no participants; no-op
// otherwise.
func (g *Registry) RemoveRoomIfEmpty(streamID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[streamID]; ok && r.Empty() {
		delete(g.rooms, streamID)
		g.logger.Debug("empty room removed", zap.String("stream_id", streamID))
	}
}

// RoomCount returns the number of active rooms.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
