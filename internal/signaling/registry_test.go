package signaling

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeChannel records sent signals and close calls for assertions.
type fakeChannel struct {
	mu     sync.Mutex
	sent   []Signal
	closed bool
}

func (f *fakeChannel) Send(s Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.sent = append(f.sent, s)
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeChannel) Sent() []Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Signal, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeChannel) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func participant(userID string, role ParticipantRole) (*Participant, *fakeChannel) {
	ch := &fakeChannel{}
	return &Participant{UserID: userID, Role: role, Channel: ch, JoinedAt: time.Now()}, ch
}

func TestGetOrCreateRoomIdempotent(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	a := reg.GetOrCreateRoom("s1")
	b := reg.GetOrCreateRoom("s1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, reg.RoomCount())
}

func TestPeerCountExcludesHost(t *testing.T) {
	room := newRoom("s1")

	host, _ := participant("h", RoleHost)
	_, count := room.Add(host)
	assert.Equal(t, 0, count)

	v1, _ := participant("v1", RoleViewer)
	_, count = room.Add(v1)
	assert.Equal(t, 1, count)

	v2, _ := participant("v2", RoleViewer)
	_, count = room.Add(v2)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, room.PeerCount())
}

func TestPeakViewersMonotone(t *testing.T) {
	room := newRoom("s1")
	host, _ := participant("h", RoleHost)
	room.Add(host)

	v1, _ := participant("v1", RoleViewer)
	v2, _ := participant("v2", RoleViewer)
	room.Add(v1)
	room.Add(v2)
	assert.Equal(t, 2, room.PeakViewers())

	room.Remove("v1", nil)
	room.Remove("v2", nil)
	assert.Equal(t, 0, room.PeerCount())
	assert.Equal(t, 2, room.PeakViewers(), "peak never decreases")
}

func TestDuplicateJoinEvictsPriorChannel(t *testing.T) {
	room := newRoom("s1")
	first, firstCh := participant("v1", RoleViewer)
	room.Add(first)

	second, _ := participant("v1", RoleViewer)
	evicted, count := room.Add(second)

	require.Len(t, evicted, 1)
	assert.Same(t, Channel(firstCh), evicted[0])
	assert.Equal(t, 1, count, "exactly one active participant for the user id")
	assert.Same(t, second, room.Get("v1"))
}

func TestSecondHostEvictsPriorHost(t *testing.T) {
	room := newRoom("s1")
	oldHost, oldCh := participant("h1", RoleHost)
	room.Add(oldHost)
	v, _ := participant("v1", RoleViewer)
	room.Add(v)

	newHost, _ := participant("h2", RoleHost)
	evicted, count := room.Add(newHost)

	require.Len(t, evicted, 1)
	assert.Same(t, Channel(oldCh), evicted[0])
	assert.Equal(t, "h2", room.HostUserID())
	assert.Equal(t, 1, count)
}

func TestRemoveIdempotent(t *testing.T) {
	room := newRoom("s1")
	v, _ := participant("v1", RoleViewer)
	room.Add(v)

	removed, _, _ := room.Remove("v1", nil)
	require.NotNil(t, removed)

	removed, _, _ = room.Remove("v1", nil)
	assert.Nil(t, removed)

	removed, _, _ = room.Remove("never-joined", nil)
	assert.Nil(t, removed)
}

func TestRemoveGuardsAgainstStaleChannel(t *testing.T) {
	room := newRoom("s1")
	first, firstCh := participant("v1", RoleViewer)
	room.Add(first)
	second, _ := participant("v1", RoleViewer)
	room.Add(second)

	// the evicted channel's disconnect must not remove the replacement
	removed, _, _ := room.Remove("v1", firstCh)
	assert.Nil(t, removed)
	assert.Same(t, second, room.Get("v1"))

	removed, _, _ = room.Remove("v1", second.Channel)
	assert.NotNil(t, removed)
}

func TestRemoveRoomIfEmpty(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	room := reg.GetOrCreateRoom("s1")
	v, _ := participant("v1", RoleViewer)
	room.Add(v)

	reg.RemoveRoomIfEmpty("s1")
	assert.NotNil(t, reg.Room("s1"), "non-empty room stays")

	room.Remove("v1", nil)
	reg.RemoveRoomIfEmpty("s1")
	assert.Nil(t, reg.Room("s1"))
}

func TestRecipientsSkip(t *testing.T) {
	room := newRoom("s1")
	host, _ := participant("h", RoleHost)
	v1, _ := participant("v1", RoleViewer)
	v2, _ := participant("v2", RoleViewer)
	room.Add(host)
	room.Add(v1)
	room.Add(v2)

	assert.Len(t, room.Recipients(), 3)
	assert.Len(t, room.Recipients("v1"), 2)
}

func TestConcurrentJoinsCountConsistently(t *testing.T) {
	room := newRoom("s1")
	host, _ := participant("h", RoleHost)
	room.Add(host)

	const n = 50
	counts := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, _ := participant(fmt.Sprintf("v%d", i), RoleViewer)
			_, count := room.Add(p)
			counts <- count
		}(i)
	}
	wg.Wait()
	close(counts)

	seen := make(map[int]bool)
	for c := range counts {
		assert.False(t, seen[c], "no two joins may observe the same count %d", c)
		seen[c] = true
		assert.GreaterOrEqual(t, c, 1)
		assert.LessOrEqual(t, c, n)
	}
	assert.Equal(t, n, room.PeerCount())
	assert.Equal(t, n, room.PeakViewers())
}
