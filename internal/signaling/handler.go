package signaling

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// joinValidateTimeout bounds the stream record lookup on join; it is the
// only storage call on the signaling path.
const joinValidateTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Authenticate resolves a bearer token into the connecting user's identity.
type Authenticate func(token string) (userID, displayName string, err error)

// ServeLive handles GET /ws/live: upgrades the connection and runs the read
// loop. All rooms share this one upgrade path; membership is established by
// the first join frame, not by the URL.
func ServeLive(coord *Coordinator, logger *zap.Logger, authenticate Authenticate) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, displayName, err := authenticate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		s := &session{
			coord:       coord,
			channel:     newWSChannel(conn, logger),
			conn:        conn,
			userID:      userID,
			displayName: displayName,
			logger:      logger,
		}
		s.readLoop()
	}
}

// session binds one websocket connection to its authenticated user and, once
// joined, to its room.
type session struct {
	coord       *Coordinator
	channel     *wsChannel
	conn        *websocket.Conn
	userID      string
	displayName string
	streamID    string // set after a successful join
	logger      *zap.Logger
}

func (s *session) readLoop() {
	defer func() {
		if s.streamID != "" {
			s.coord.Disconnect(s.streamID, s.userID, s.channel)
		}
		s.channel.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		sig, err := Decode(data)
		if err != nil {
			s.logger.Warn("malformed frame dropped",
				zap.String("user_id", s.userID),
				zap.Error(err),
			)
			continue
		}
		if !s.handle(sig) {
			return
		}
	}
}

// handle dispatches one inbound signal. It returns false when the session
// must terminate (rejected join).
func (s *session) handle(sig Signal) bool {
	if s.streamID == "" {
		j, ok := sig.(Join)
		if !ok {
			s.logger.Warn("frame before join dropped", zap.String("user_id", s.userID))
			return true
		}
		// the authenticated identity wins over whatever the client claims
		if j.UserID != s.userID {
			s.logger.Warn("join user id mismatch, using authenticated id",
				zap.String("claimed", j.UserID),
				zap.String("user_id", s.userID),
			)
			j.UserID = s.userID
		}
		ctx, cancel := context.WithTimeout(context.Background(), joinValidateTimeout)
		err := s.coord.Join(ctx, s.channel, j)
		cancel()
		if err != nil {
			s.channel.Send(Error{Message: err.Error()})
			return false
		}
		s.streamID = j.StreamID
		return true
	}

	switch m := sig.(type) {
	case Join:
		s.logger.Warn("duplicate join frame dropped", zap.String("user_id", s.userID))
	case Offer, Answer, ICECandidate:
		s.coord.Relay(s.streamID, s.userID, m)
	case Chat:
		s.coord.Chat(s.streamID, s.userID, s.displayName, m)
	case EndStream:
		s.coord.EndStream(s.streamID, s.userID)
		return false
	default:
		s.logger.Warn("unexpected frame dropped", zap.String("user_id", s.userID))
	}
	return true
}
