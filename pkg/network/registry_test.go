package network

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, username string) *Session {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	return NewSession(username, server)
}

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	s := newTestSession(t, "alice")

	require.NoError(t, r.Register(s))

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.SessionCount())
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	first := newTestSession(t, "alice")
	second := newTestSession(t, "alice")

	require.NoError(t, r.Register(first))
	assert.ErrorIs(t, r.Register(second), ErrDuplicateSession)

	// The rejected session must not evict the live one.
	assert.False(t, r.Deregister(second))
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestConcurrentRegistrationSingleWinner(t *testing.T) {
	r := NewRegistry()

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		s := newTestSession(t, "alice")
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Register(s)
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one session may win the race")
	assert.Equal(t, 1, r.SessionCount())
}

func TestBindCallAndMediaPeers(t *testing.T) {
	r := NewRegistry()
	alice := newTestSession(t, "alice")
	bob := newTestSession(t, "bob")
	require.NoError(t, r.Register(alice))
	require.NoError(t, r.Register(bob))

	r.BindCall(alice, "alice|bob", udpAddr(40001), udpAddr(40002))
	r.BindCall(bob, "alice|bob", udpAddr(40003), udpAddr(40004))
	assert.Equal(t, 1, r.CallCount())

	peers, ok := r.MediaPeers(MediaAudio, udpAddr(40001))
	require.True(t, ok)
	require.Len(t, peers, 1)
	assert.Equal(t, "127.0.0.1:40003", peers[0].String())

	peers, ok = r.MediaPeers(MediaVideo, udpAddr(40002))
	require.True(t, ok)
	require.Len(t, peers, 1)
	assert.Equal(t, "127.0.0.1:40004", peers[0].String())

	// Audio sources do not resolve on the video table and vice versa.
	_, ok = r.MediaPeers(MediaVideo, udpAddr(40001))
	assert.False(t, ok)
}

func TestMediaPeersUnboundSource(t *testing.T) {
	r := NewRegistry()

	_, ok := r.MediaPeers(MediaAudio, udpAddr(49999))
	assert.False(t, ok)
}

func TestGroupCallStarTopology(t *testing.T) {
	r := NewRegistry()

	for i, name := range []string{"alice", "bob", "carol"} {
		s := newTestSession(t, name)
		require.NoError(t, r.Register(s))
		r.BindCall(s, "devs", udpAddr(41000+i), nil)
	}

	peers, ok := r.MediaPeers(MediaAudio, udpAddr(41000))
	require.True(t, ok)
	assert.Len(t, peers, 2, "sender is excluded from its own fan-out")
}

func TestDeregisterCascadesCallBindings(t *testing.T) {
	r := NewRegistry()
	alice := newTestSession(t, "alice")
	bob := newTestSession(t, "bob")
	require.NoError(t, r.Register(alice))
	require.NoError(t, r.Register(bob))

	r.BindCall(alice, "alice|bob", udpAddr(40001), nil)
	r.BindCall(bob, "alice|bob", udpAddr(40003), nil)

	require.True(t, r.Deregister(alice))

	// Alice's source no longer resolves at all.
	_, ok := r.MediaPeers(MediaAudio, udpAddr(40001))
	assert.False(t, ok)

	// Bob still resolves, but has no stale endpoint to forward to.
	peers, ok := r.MediaPeers(MediaAudio, udpAddr(40003))
	require.True(t, ok)
	assert.Empty(t, peers)

	require.True(t, r.Deregister(bob))
	assert.Equal(t, 0, r.CallCount())
}

func TestRebindReplacesEndpoints(t *testing.T) {
	r := NewRegistry()
	alice := newTestSession(t, "alice")
	bob := newTestSession(t, "bob")
	require.NoError(t, r.Register(alice))
	require.NoError(t, r.Register(bob))

	r.BindCall(alice, "alice|bob", udpAddr(40001), nil)
	r.BindCall(bob, "alice|bob", udpAddr(40002), nil)
	r.BindCall(alice, "alice|bob", udpAddr(40005), nil)

	_, ok := r.MediaPeers(MediaAudio, udpAddr(40001))
	assert.False(t, ok, "stale source address must be unbound")

	peers, ok := r.MediaPeers(MediaAudio, udpAddr(40002))
	require.True(t, ok)
	require.Len(t, peers, 1)
	assert.Equal(t, "127.0.0.1:40005", peers[0].String())
	assert.Equal(t, 1, r.CallCount())
}

func TestLeaveCallDropsEmptyCall(t *testing.T) {
	r := NewRegistry()
	alice := newTestSession(t, "alice")
	require.NoError(t, r.Register(alice))

	r.BindCall(alice, "solo", udpAddr(40001), nil)
	require.Equal(t, 1, r.CallCount())

	r.LeaveCall("alice")
	assert.Equal(t, 0, r.CallCount())

	// Leaving twice is harmless.
	r.LeaveCall("alice")
}

func TestSessionsSnapshot(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Register(newTestSession(t, fmt.Sprintf("user%d", i))))
	}
	assert.Len(t, r.Sessions(), 3)
}
