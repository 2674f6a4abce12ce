package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type tags a signaling frame on the wire.
type Type string

const (
	TypeJoin         Type = "join"
	TypeJoined       Type = "joined"
	TypePeerJoined   Type = "peer-joined"
	TypePeerLeft     Type = "peer-left"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeChat         Type = "chat"
	TypeEndStream    Type = "end-stream"
	TypeStreamEnded  Type = "stream-ended"
	TypeError        Type = "error"
)

// ParticipantRole is the role a participant takes in a room.
type ParticipantRole string

const (
	RoleHost   ParticipantRole = "host"
	RoleViewer ParticipantRole = "viewer"
)

var (
	// ErrUnknownType is returned by Decode for an unrecognized type tag.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField is returned by Decode when a required field is absent.
	ErrMissingField = errors.New("missing required field")
)

// Signal is one wire-level signaling message. Implementations are the
// message variants below; dispatch is a type switch over them.
type Signal interface {
	signalType() Type
}

// Join asks to enter a stream room (first frame on every connection).
type Join struct {
	StreamID string
	UserID   string
	Role     ParticipantRole
}

// Joined acknowledges a join to the joining participant only.
type Joined struct {
	PeerCount int
}

// PeerJoined announces a new viewer to the existing participants.
type PeerJoined struct {
	UserID    string
	IsHost    bool
	PeerCount int
}

// PeerLeft announces a departure to the remaining participants.
type PeerLeft struct {
	UserID    string
	PeerCount int
}

// Offer carries an SDP offer between two peers. The payload is opaque to
// the relay.
type Offer struct {
	TargetUserID string
	FromUserID   string
	SDP          json.RawMessage
}

// Answer carries an SDP answer between two peers.
type Answer struct {
	TargetUserID string
	FromUserID   string
	SDP          json.RawMessage
}

// ICECandidate carries an ICE candidate between two peers.
type ICECandidate struct {
	TargetUserID string
	FromUserID   string
	Candidate    json.RawMessage
}

// Chat is a room-wide text message.
type Chat struct {
	StreamID  string
	UserID    string
	UserName  string
	Message   string
	Timestamp int64 // unix millis; server-stamped when the client omits it
}

// EndStream is the host's explicit end-of-stream action.
type EndStream struct{}

// StreamEnded tells remaining participants the stream is over.
type StreamEnded struct{}

// Error is an informational frame sent before a join-rejection close.
type Error struct {
	Message string
}

func (Join) signalType() Type         { return TypeJoin }
func (Joined) signalType() Type       { return TypeJoined }
func (PeerJoined) signalType() Type   { return TypePeerJoined }
func (PeerLeft) signalType() Type     { return TypePeerLeft }
func (Offer) signalType() Type        { return TypeOffer }
func (Answer) signalType() Type       { return TypeAnswer }
func (ICECandidate) signalType() Type { return TypeICECandidate }
func (Chat) signalType() Type         { return TypeChat }
func (EndStream) signalType() Type    { return TypeEndStream }
func (StreamEnded) signalType() Type  { return TypeStreamEnded }
func (Error) signalType() Type        { return TypeError }

// frame is the flat wire representation shared by all variants.
type frame struct {
	Type         Type            `json:"type"`
	StreamID     string          `json:"streamId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Role         ParticipantRole `json:"role,omitempty"`
	UserName     string          `json:"userName,omitempty"`
	Message      string          `json:"message,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	FromUserID   string          `json:"fromUserId,omitempty"`
	IsHost       *bool           `json:"isHost,omitempty"`
	PeerCount    *int            `json:"peerCount,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Decode parses a raw frame into a typed Signal. Unknown types and missing
// required fields yield an error; callers log and drop, never crash the
// connection.
func Decode(data []byte) (Signal, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case TypeJoin:
		if f.StreamID == "" {
			return nil, missing(f.Type, "streamId")
		}
		if f.UserID == "" {
			return nil, missing(f.Type, "userId")
		}
		if f.Role != RoleHost && f.Role != RoleViewer {
			return nil, missing(f.Type, "role")
		}
		return Join{StreamID: f.StreamID, UserID: f.UserID, Role: f.Role}, nil
	case TypeOffer:
		if f.TargetUserID == "" {
			return nil, missing(f.Type, "targetUserId")
		}
		if len(f.Offer) == 0 {
			return nil, missing(f.Type, "offer")
		}
		return Offer{TargetUserID: f.TargetUserID, FromUserID: f.FromUserID, SDP: f.Offer}, nil
	case TypeAnswer:
		if f.TargetUserID == "" {
			return nil, missing(f.Type, "targetUserId")
		}
		if len(f.Answer) == 0 {
			return nil, missing(f.Type, "answer")
		}
		return Answer{TargetUserID: f.TargetUserID, FromUserID: f.FromUserID, SDP: f.Answer}, nil
	case TypeICECandidate:
		if f.TargetUserID == "" {
			return nil, missing(f.Type, "targetUserId")
		}
		if len(f.Candidate) == 0 {
			return nil, missing(f.Type, "candidate")
		}
		return ICECandidate{TargetUserID: f.TargetUserID, FromUserID: f.FromUserID, Candidate: f.Candidate}, nil
	case TypeChat:
		if f.Message == "" {
			return nil, missing(f.Type, "message")
		}
		return Chat{
			StreamID:  f.StreamID,
			UserID:    f.UserID,
			UserName:  f.UserName,
			Message:   f.Message,
			Timestamp: f.Timestamp,
		}, nil
	case TypeEndStream:
		return EndStream{}, nil
	case "":
		return nil, fmt.Errorf("empty type tag: %w", ErrUnknownType)
	default:
		return nil, fmt.Errorf("%q: %w", f.Type, ErrUnknownType)
	}
}

// Encode serializes a Signal to its flat wire frame.
func Encode(s Signal) ([]byte, error) {
	f := frame{Type: s.signalType()}
	switch m := s.(type) {
	case Join:
		f.StreamID, f.UserID, f.Role = m.StreamID, m.UserID, m.Role
	case Joined:
		f.PeerCount = &m.PeerCount
	case PeerJoined:
		f.UserID, f.IsHost, f.PeerCount = m.UserID, &m.IsHost, &m.PeerCount
	case PeerLeft:
		f.UserID, f.PeerCount = m.UserID, &m.PeerCount
	case Offer:
		f.TargetUserID, f.FromUserID, f.Offer = m.TargetUserID, m.FromUserID, m.SDP
	case Answer:
		f.TargetUserID, f.FromUserID, f.Answer = m.TargetUserID, m.FromUserID, m.SDP
	case ICECandidate:
		f.TargetUserID, f.FromUserID, f.Candidate = m.TargetUserID, m.FromUserID, m.Candidate
	case Chat:
		f.StreamID, f.UserID, f.UserName, f.Message, f.Timestamp = m.StreamID, m.UserID, m.UserName, m.Message, m.Timestamp
	case EndStream, StreamEnded:
		// type tag only
	case Error:
		f.Error = m.Message
	default:
		return nil, fmt.Errorf("encode: %w: %T", ErrUnknownType, s)
	}
	return json.Marshal(f)
}

func missing(t Type, field string) error {
	return fmt.Errorf("%s: %s: %w", t, field, ErrMissingField)
}
