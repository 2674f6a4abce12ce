package signaling

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testUsers = map[string]struct{ id, name string }{
	"host-token":   {"h", "Host"},
	"viewer-token": {"v1", "Viewer One"},
}

func testAuthenticate(token string) (string, string, error) {
	u, ok := testUsers[token]
	if !ok {
		return "", "", errors.New("invalid token")
	}
	return u.id, u.name, nil
}

func newWSTestServer(t *testing.T) (*httptest.Server, *Coordinator, *Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := NewRegistry(zap.NewNop())
	coord := NewCoordinator(reg, &fakeValidator{streams: map[string]bool{"s1": true}}, &fakeSync{}, zap.NewNop())
	router := gin.New()
	router.GET("/ws/live", ServeLive(coord, zap.NewNop(), testAuthenticate))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, coord, reg
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	return got
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestServeLiveRejectsBadToken(t *testing.T) {
	srv, _, _ := newWSTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeLiveRequiresToken(t *testing.T) {
	srv, _, _ := newWSTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeLiveJoinAndSignalFlow(t *testing.T) {
	srv, _, _ := newWSTestServer(t)

	host := dial(t, srv, "host-token")
	writeFrame(t, host, `{"type":"join","streamId":"s1","userId":"h","role":"host"}`)
	joined := readFrame(t, host)
	assert.Equal(t, "joined", joined["type"])
	assert.Equal(t, float64(0), joined["peerCount"])

	viewer := dial(t, srv, "viewer-token")
	writeFrame(t, viewer, `{"type":"join","streamId":"s1","userId":"v1","role":"viewer"}`)
	joined = readFrame(t, viewer)
	assert.Equal(t, "joined", joined["type"])
	assert.Equal(t, float64(1), joined["peerCount"])

	announce := readFrame(t, host)
	assert.Equal(t, "peer-joined", announce["type"])
	assert.Equal(t, "v1", announce["userId"])
	assert.Equal(t, false, announce["isHost"])
	assert.Equal(t, float64(1), announce["peerCount"])

	// host offers to the viewer; only the viewer sees it, stamped with the
	// host's id
	writeFrame(t, host, `{"type":"offer","targetUserId":"v1","offer":{"sdp":"v=0"}}`)
	offer := readFrame(t, viewer)
	assert.Equal(t, "offer", offer["type"])
	assert.Equal(t, "h", offer["fromUserId"])

	// chat fans out to everyone including the sender
	writeFrame(t, viewer, `{"type":"chat","message":"hello campus"}`)
	for _, conn := range []*websocket.Conn{host, viewer} {
		chat := readFrame(t, conn)
		assert.Equal(t, "chat", chat["type"])
		assert.Equal(t, "hello campus", chat["message"])
		assert.Equal(t, "v1", chat["userId"])
		assert.Equal(t, "Viewer One", chat["userName"])
		assert.NotNil(t, chat["timestamp"])
	}
}

func TestServeLiveHostDisconnectEndsStream(t *testing.T) {
	srv, _, reg := newWSTestServer(t)

	host := dial(t, srv, "host-token")
	writeFrame(t, host, `{"type":"join","streamId":"s1","userId":"h","role":"host"}`)
	readFrame(t, host)

	viewer := dial(t, srv, "viewer-token")
	writeFrame(t, viewer, `{"type":"join","streamId":"s1","userId":"v1","role":"viewer"}`)
	readFrame(t, viewer)
	readFrame(t, host)

	require.NoError(t, host.Close())

	ended := readFrame(t, viewer)
	assert.Equal(t, "stream-ended", ended["type"])

	// the viewer's connection is closed by the server after the broadcast
	_ = viewer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := viewer.ReadMessage()
	assert.Error(t, err)

	waitFor(t, func() bool { return reg.Room("s1") == nil })
}

func TestServeLiveMalformedFramesKeepConnectionOpen(t *testing.T) {
	srv, _, _ := newWSTestServer(t)

	host := dial(t, srv, "host-token")
	writeFrame(t, host, `{"type":"join","streamId":"s1","userId":"h","role":"host"}`)
	readFrame(t, host)

	writeFrame(t, host, `not json at all`)
	writeFrame(t, host, `{"type":"mystery"}`)
	writeFrame(t, host, `{"type":"offer"}`) // missing fields

	// connection survives; a valid frame still works
	viewer := dial(t, srv, "viewer-token")
	writeFrame(t, viewer, `{"type":"join","streamId":"s1","userId":"v1","role":"viewer"}`)
	readFrame(t, viewer)
	announce := readFrame(t, host)
	assert.Equal(t, "peer-joined", announce["type"])
}

func TestServeLiveRejectedJoinSendsErrorAndCloses(t *testing.T) {
	srv, _, _ := newWSTestServer(t)

	conn := dial(t, srv, "viewer-token")
	writeFrame(t, conn, `{"type":"join","streamId":"unknown-stream","userId":"v1","role":"viewer"}`)

	errFrame := readFrame(t, conn)
	assert.Equal(t, "error", errFrame["type"])
	assert.NotEmpty(t, errFrame["error"])

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "channel is closed after the error frame")
}

func TestServeLiveAuthenticatedIdentityWins(t *testing.T) {
	srv, _, reg := newWSTestServer(t)

	conn := dial(t, srv, "viewer-token")
	writeFrame(t, conn, `{"type":"join","streamId":"s1","userId":"someone-else","role":"viewer"}`)
	readFrame(t, conn)

	room := reg.Room("s1")
	require.NotNil(t, room)
	assert.NotNil(t, room.Get("v1"), "participant registered under the token's user id")
	assert.Nil(t, room.Get("someone-else"))
}

func TestServeLiveExplicitEndStream(t *testing.T) {
	srv, _, reg := newWSTestServer(t)

	host := dial(t, srv, "host-token")
	writeFrame(t, host, `{"type":"join","streamId":"s1","userId":"h","role":"host"}`)
	readFrame(t, host)

	viewer := dial(t, srv, "viewer-token")
	writeFrame(t, viewer, `{"type":"join","streamId":"s1","userId":"v1","role":"viewer"}`)
	readFrame(t, viewer)
	readFrame(t, host)

	writeFrame(t, host, `{"type":"end-stream"}`)

	ended := readFrame(t, viewer)
	assert.Equal(t, "stream-ended", ended["type"])
	waitFor(t, func() bool { return reg.Room("s1") == nil })
}
