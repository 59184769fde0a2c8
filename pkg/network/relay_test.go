package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T) (*Relay, *Registry) {
	t.Helper()

	registry := NewRegistry()
	relay := NewRelay(registry)
	require.NoError(t, relay.Start("127.0.0.1:0", "127.0.0.1:0"))
	t.Cleanup(relay.Stop)

	return relay, registry
}

func newMediaClient(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func localUDPAddr(conn *net.UDPConn) *net.UDPAddr {
	return conn.LocalAddr().(*net.UDPAddr)
}

func expectDatagram(t *testing.T, conn *net.UDPConn, want string) {
	t.Helper()

	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf[:n]))
}

func expectSilence(t *testing.T, conn *net.UDPConn) {
	t.Helper()

	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	n, _, err := conn.ReadFromUDP(buf)
	if err == nil {
		t.Fatalf("expected no datagram, got %q", buf[:n])
	}
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestRelayForwardsBetweenBoundPeers(t *testing.T) {
	relay, registry := newTestRelay(t)

	alice := newTestSession(t, "alice")
	bob := newTestSession(t, "bob")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))

	aliceSock := newMediaClient(t)
	bobSock := newMediaClient(t)

	registry.BindCall(alice, "alice|bob", localUDPAddr(aliceSock), nil)
	registry.BindCall(bob, "alice|bob", localUDPAddr(bobSock), nil)

	relayAddr := relay.AudioAddr().(*net.UDPAddr)
	_, err := aliceSock.WriteToUDP([]byte("voice-frame-1"), relayAddr)
	require.NoError(t, err)

	// Forwarded unmodified within one relay pass.
	expectDatagram(t, bobSock, "voice-frame-1")
	require.Eventually(t, func() bool {
		return relay.DatagramsRelayed() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRelayDropsUnboundSource(t *testing.T) {
	relay, registry := newTestRelay(t)

	alice := newTestSession(t, "alice")
	bob := newTestSession(t, "bob")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))

	aliceSock := newMediaClient(t)
	bobSock := newMediaClient(t)
	intruder := newMediaClient(t)

	registry.BindCall(alice, "alice|bob", localUDPAddr(aliceSock), nil)
	registry.BindCall(bob, "alice|bob", localUDPAddr(bobSock), nil)

	relayAddr := relay.AudioAddr().(*net.UDPAddr)
	_, err := intruder.WriteToUDP([]byte("spoofed"), relayAddr)
	require.NoError(t, err)

	// Dropped silently: nothing reaches either participant, and the
	// probing sender gets no reply either.
	expectSilence(t, bobSock)
	expectSilence(t, aliceSock)
	expectSilence(t, intruder)
	assert.EqualValues(t, 1, relay.DatagramsDropped())
}

func TestRelayStopsAfterTeardown(t *testing.T) {
	relay, registry := newTestRelay(t)

	alice := newTestSession(t, "alice")
	bob := newTestSession(t, "bob")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))

	aliceSock := newMediaClient(t)
	bobSock := newMediaClient(t)

	registry.BindCall(alice, "alice|bob", localUDPAddr(aliceSock), nil)
	registry.BindCall(bob, "alice|bob", localUDPAddr(bobSock), nil)

	relayAddr := relay.AudioAddr().(*net.UDPAddr)
	_, err := aliceSock.WriteToUDP([]byte("before"), relayAddr)
	require.NoError(t, err)
	expectDatagram(t, bobSock, "before")

	// Alice's session goes away mid-call.
	require.True(t, registry.Deregister(alice))

	// Late datagrams from the former peer must not reach Alice's stale
	// endpoint, and Alice's own datagrams are now unbound.
	_, err = bobSock.WriteToUDP([]byte("after"), relayAddr)
	require.NoError(t, err)
	expectSilence(t, aliceSock)

	_, err = aliceSock.WriteToUDP([]byte("stale"), relayAddr)
	require.NoError(t, err)
	expectSilence(t, bobSock)
}

func TestRelayVideoChannelSeparate(t *testing.T) {
	relay, registry := newTestRelay(t)

	alice := newTestSession(t, "alice")
	bob := newTestSession(t, "bob")
	require.NoError(t, registry.Register(alice))
	require.NoError(t, registry.Register(bob))

	aliceAudio := newMediaClient(t)
	aliceVideo := newMediaClient(t)
	bobAudio := newMediaClient(t)
	bobVideo := newMediaClient(t)

	registry.BindCall(alice, "alice|bob", localUDPAddr(aliceAudio), localUDPAddr(aliceVideo))
	registry.BindCall(bob, "alice|bob", localUDPAddr(bobAudio), localUDPAddr(bobVideo))

	videoAddr := relay.VideoAddr().(*net.UDPAddr)
	_, err := aliceVideo.WriteToUDP([]byte("video-frame"), videoAddr)
	require.NoError(t, err)

	expectDatagram(t, bobVideo, "video-frame")
	expectSilence(t, bobAudio)
}
