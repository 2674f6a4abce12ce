package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJoin(t *testing.T) {
	sig, err := Decode([]byte(`{"type":"join","streamId":"s1","userId":"u1","role":"host"}`))
	require.NoError(t, err)
	join, ok := sig.(Join)
	require.True(t, ok)
	assert.Equal(t, "s1", join.StreamID)
	assert.Equal(t, "u1", join.UserID)
	assert.Equal(t, RoleHost, join.Role)
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"join without streamId", `{"type":"join","userId":"u1","role":"host"}`},
		{"join without userId", `{"type":"join","streamId":"s1","role":"viewer"}`},
		{"join with bad role", `{"type":"join","streamId":"s1","userId":"u1","role":"producer"}`},
		{"offer without target", `{"type":"offer","offer":{"sdp":"x"}}`},
		{"offer without payload", `{"type":"offer","targetUserId":"u2"}`},
		{"answer without payload", `{"type":"answer","targetUserId":"u2"}`},
		{"candidate without payload", `{"type":"ice-candidate","targetUserId":"u2"}`},
		{"chat without message", `{"type":"chat","streamId":"s1","userId":"u1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"subscribe","streamId":"s1"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"streamId":"s1"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	require.Error(t, err)
}

func TestDecodeOfferKeepsPayloadOpaque(t *testing.T) {
	raw := `{"type":"offer","targetUserId":"u2","offer":{"sdp":"v=0...","type":"offer","weird":[1,2]}}`
	sig, err := Decode([]byte(raw))
	require.NoError(t, err)
	offer, ok := sig.(Offer)
	require.True(t, ok)
	assert.JSONEq(t, `{"sdp":"v=0...","type":"offer","weird":[1,2]}`, string(offer.SDP))
}

func TestEncodeJoinedIncludesZeroPeerCount(t *testing.T) {
	data, err := Encode(Joined{PeerCount: 0})
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "joined", got["type"])
	count, present := got["peerCount"]
	require.True(t, present, "peerCount must be serialized even when zero")
	assert.Equal(t, float64(0), count)
}

func TestEncodePeerJoined(t *testing.T) {
	data, err := Encode(PeerJoined{UserID: "u2", IsHost: false, PeerCount: 3})
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "peer-joined", got["type"])
	assert.Equal(t, "u2", got["userId"])
	assert.Equal(t, false, got["isHost"])
	assert.Equal(t, float64(3), got["peerCount"])
}

func TestEncodeRelayStampsFromUser(t *testing.T) {
	data, err := Encode(Answer{FromUserID: "host-1", SDP: json.RawMessage(`{"sdp":"a"}`)})
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "answer", got["type"])
	assert.Equal(t, "host-1", got["fromUserId"])
	_, hasTarget := got["targetUserId"]
	assert.False(t, hasTarget)
}

func TestEncodeStreamEnded(t *testing.T) {
	data, err := Encode(StreamEnded{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"stream-ended"}`, string(data))
}

func TestChatRoundTrip(t *testing.T) {
	data, err := Encode(Chat{StreamID: "s1", UserID: "u1", UserName: "DJ Nova", Message: "hey", Timestamp: 1700000000000})
	require.NoError(t, err)
	sig, err := Decode(data)
	require.NoError(t, err)
	chat, ok := sig.(Chat)
	require.True(t, ok)
	assert.Equal(t, "DJ Nova", chat.UserName)
	assert.Equal(t, int64(1700000000000), chat.Timestamp)
}
