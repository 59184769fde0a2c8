package network

import (
	"fmt"
	"log"
	"net"
	"sync/atomic"
)

// Datagrams larger than this are truncated by the kernel; video frames in
// the original client stay under 60 KB.
const maxDatagramSize = 64 * 1024

// Relay forwards real-time media datagrams between bound call
// participants. Forwarding is stateless per datagram: no reassembly, no
// ordering, no retransmission, no buffering beyond one datagram.
type Relay struct {
	registry *Registry

	audioConn *net.UDPConn
	videoConn *net.UDPConn

	relayed atomic.Uint64
	dropped atomic.Uint64
}

// NewRelay creates a media relay routing through the given registry.
func NewRelay(registry *Registry) *Relay {
	return &Relay{registry: registry}
}

// Start binds the audio and video sockets and launches one receive-and-
// forward loop per channel.
func (r *Relay) Start(audioAddr, videoAddr string) error {
	audioConn, err := listenUDP(audioAddr)
	if err != nil {
		return fmt.Errorf("audio socket: %w", err)
	}

	videoConn, err := listenUDP(videoAddr)
	if err != nil {
		audioConn.Close()
		return fmt.Errorf("video socket: %w", err)
	}

	r.audioConn = audioConn
	r.videoConn = videoConn

	go r.forwardLoop(audioConn, MediaAudio)
	go r.forwardLoop(videoConn, MediaVideo)

	log.Printf("[RELAY] Audio on %s, video on %s", audioConn.LocalAddr(), videoConn.LocalAddr())
	return nil
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", udpAddr)
}

// Stop closes both sockets, terminating the forward loops.
func (r *Relay) Stop() {
	if r.audioConn != nil {
		r.audioConn.Close()
	}
	if r.videoConn != nil {
		r.videoConn.Close()
	}
}

// AudioAddr returns the bound audio socket address.
func (r *Relay) AudioAddr() net.Addr { return r.audioConn.LocalAddr() }

// VideoAddr returns the bound video socket address.
func (r *Relay) VideoAddr() net.Addr { return r.videoConn.LocalAddr() }

// DatagramsRelayed reports the number of datagrams forwarded since start.
func (r *Relay) DatagramsRelayed() uint64 { return r.relayed.Load() }

// DatagramsDropped reports datagrams discarded for lacking a binding.
func (r *Relay) DatagramsDropped() uint64 { return r.dropped.Load() }

// forwardLoop is the tight receive-and-forward loop for one media socket.
// Datagrams from unbound sources are dropped without any reply so probing
// traffic learns nothing about call topology.
func (r *Relay) forwardLoop(conn *net.UDPConn, kind MediaKind) {
	buf := make([]byte, maxDatagramSize)

	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Socket closed during shutdown.
			return
		}

		peers, ok := r.registry.MediaPeers(kind, src)
		if !ok {
			r.dropped.Add(1)
			continue
		}

		for _, dst := range peers {
			if _, err := conn.WriteToUDP(buf[:n], dst); err != nil {
				log.Printf("[RELAY] %s forward to %s: %v", kind, dst, err)
			}
		}
		r.relayed.Add(1)
	}
}
