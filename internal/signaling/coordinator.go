package signaling

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// StreamValidator answers whether a stream id denotes a valid, non-ended
// stream record (external collaborator).
type StreamValidator interface {
	ValidateStream(ctx context.Context, streamID string) (exists bool, live bool, err error)
}

var (
	// ErrStreamNotFound rejects a join for an unknown stream record.
	ErrStreamNotFound = errors.New("stream not found")
	// ErrStreamEnded rejects a join for an already-ended stream.
	ErrStreamEnded = errors.New("stream already ended")
)

// Coordinator governs room lifecycle: joins, departures, point-to-point
// relay and chat fan-out. All room mutations go through the Registry, whose
// per-room locking keeps peer counts consistent with broadcasts.
type Coordinator struct {
	registry  *Registry
	validator StreamValidator
	sync      RecordSync
	logger    *zap.Logger
}

// NewCoordinator creates a room lifecycle coordinator.
func NewCoordinator(registry *Registry, validator StreamValidator, sync RecordSync, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		registry:  registry,
		validator: validator,
		sync:      sync,
		logger:    logger,
	}
}

// Join admits a participant to a room. The stream record is validated
// first; a rejection error means the caller must close the channel and no
// room state was created. A duplicate user id (or a second host) evicts the
// prior channel: last join wins.
func (c *Coordinator) Join(ctx context.Context, ch Channel, j Join) error {
	exists, live, err := c.validator.ValidateStream(ctx, j.StreamID)
	if err != nil {
		c.logger.Warn("stream validation failed", zap.String("stream_id", j.StreamID), zap.Error(err))
		return ErrStreamNotFound
	}
	if !exists {
		return ErrStreamNotFound
	}
	if !live {
		return ErrStreamEnded
	}

	room := c.registry.GetOrCreateRoom(j.StreamID)
	p := &Participant{
		UserID:   j.UserID,
		Role:     j.Role,
		Channel:  ch,
		JoinedAt: time.Now(),
	}
	evicted, peerCount := room.Add(p)
	for _, old := range evicted {
		old.Close()
	}

	ch.Send(Joined{PeerCount: peerCount})

	switch j.Role {
	case RoleHost:
		// the host's presence is implied by the room existing; no
		// peer-joined broadcast for it
		c.sync.StreamLive(j.StreamID)
	case RoleViewer:
		announce := PeerJoined{UserID: j.UserID, IsHost: false, PeerCount: peerCount}
		for _, rc := range room.Recipients(j.UserID) {
			rc.Send(announce)
		}
		c.sync.ViewerCount(j.StreamID, peerCount)
	}

	c.logger.Info("participant joined",
		zap.String("stream_id", j.StreamID),
		zap.String("user_id", j.UserID),
		zap.String("role", string(j.Role)),
		zap.Int("peer_count", peerCount),
	)
	return nil
}

// Disconnect removes a participant after its channel closed (or an explicit
// leave). ch guards against the stale-eviction race: the removal only
// applies when the registered channel is the same one that disconnected.
// Host departure ends the room for everyone.
func (c *Coordinator) Disconnect(streamID, userID string, ch Channel) {
	room := c.registry.Room(streamID)
	if room == nil {
		return
	}
	removed, peerCount, wasHost := room.Remove(userID, ch)
	if removed == nil {
		return
	}
	removed.Channel.Close()

	if wasHost {
		c.endRoom(room)
		c.logger.Info("host left, stream ended",
			zap.String("stream_id", streamID),
			zap.String("user_id", userID),
		)
		return
	}

	left := PeerLeft{UserID: userID, PeerCount: peerCount}
	for _, rc := range room.Recipients() {
		rc.Send(left)
	}
	c.sync.ViewerCount(streamID, peerCount)
	c.registry.RemoveRoomIfEmpty(streamID)

	c.logger.Info("participant left",
		zap.String("stream_id", streamID),
		zap.String("user_id", userID),
		zap.Int("peer_count", peerCount),
	)
}

// EndStream handles the host's explicit end action. Non-host senders are
// ignored. The initiating channel is closed along with everyone else's.
func (c *Coordinator) EndStream(streamID, userID string) {
	room := c.registry.Room(streamID)
	if room == nil {
		return
	}
	if room.HostUserID() != userID {
		c.logger.Warn("end-stream from non-host dropped",
			zap.String("stream_id", streamID),
			zap.String("user_id", userID),
		)
		return
	}
	c.endRoom(room)
	c.logger.Info("stream ended by host", zap.String("stream_id", streamID), zap.String("user_id", userID))
}

// endRoom broadcasts stream-ended to every remaining participant, closes
// their channels after the broadcast is queued, destroys the room and
// persists the final metrics.
func (c *Coordinator) endRoom(room *Room) {
	peak := room.PeakViewers()
	for _, p := range room.Drain() {
		p.Channel.Send(StreamEnded{})
		p.Channel.Close()
	}
	c.registry.RemoveRoom(room.StreamID)
	c.sync.StreamEnded(room.StreamID, peak)
}

// Relay forwards an offer, answer or ice-candidate to its target, stamping
// the sender's id as fromUserId. A missing target is an expected race with
// disconnect and is dropped silently.
func (c *Coordinator) Relay(streamID, fromUserID string, s Signal) {
	room := c.registry.Room(streamID)
	if room == nil {
		return
	}

	var targetID string
	var out Signal
	switch m := s.(type) {
	case Offer:
		targetID = m.TargetUserID
		out = Offer{FromUserID: fromUserID, SDP: m.SDP}
	case Answer:
		targetID = m.TargetUserID
		out = Answer{FromUserID: fromUserID, SDP: m.SDP}
	case ICECandidate:
		targetID = m.TargetUserID
		out = ICECandidate{FromUserID: fromUserID, Candidate: m.Candidate}
	default:
		c.logger.Warn("relay of non-relayable signal dropped", zap.String("stream_id", streamID))
		return
	}

	target := room.Get(targetID)
	if target == nil {
		// target already gone; tolerated race between signaling and disconnect
		c.logger.Debug("relay target absent",
			zap.String("stream_id", streamID),
			zap.String("target_user_id", targetID),
		)
		return
	}
	target.Channel.Send(out)
}

// Chat fans a chat message out to every participant in the room, the sender
// included, and hands it to the synchronizer for persistence. The server
// stamps the timestamp when the client omitted it.
func (c *Coordinator) Chat(streamID, fromUserID, fromUserName string, m Chat) {
	room := c.registry.Room(streamID)
	if room == nil {
		return
	}

	m.StreamID = streamID
	m.UserID = fromUserID
	if m.UserName == "" {
		m.UserName = fromUserName
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}

	for _, rc := range room.Recipients() {
		rc.Send(m)
	}
	c.sync.ChatMessage(m)
}
