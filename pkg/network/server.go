package network

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/sechat/sechat-node/pkg/protocol"
	"github.com/sechat/sechat-node/pkg/storage"
)

// Config holds the control-channel policy constants.
type Config struct {
	TCPAddr   string
	AudioAddr string
	VideoAddr string

	UnauthGrace      time.Duration // How long a connection may stay unauthenticated
	IdleTimeout      time.Duration // Idle cutoff for authenticated sessions
	AuthFailureLimit int           // Consecutive login failures before forced close
	ViolationLimit   int           // Protocol violations tolerated before forced close
	HistoryLimit     int           // Records replayed per history request
}

// DefaultConfig returns the default server policy.
func DefaultConfig() *Config {
	return &Config{
		TCPAddr:          ":5556",
		AudioAddr:        ":5557",
		VideoAddr:        ":5558",
		UnauthGrace:      30 * time.Second,
		IdleTimeout:      15 * time.Minute,
		AuthFailureLimit: 3,
		ViolationLimit:   8,
		HistoryLimit:     50,
	}
}

// Server owns the reliable control channel: it accepts connections, runs
// one goroutine per connection, and drives the session registry. Media
// datagrams never pass through it; they are the Relay's business.
type Server struct {
	cfg      *Config
	store    *storage.Store
	registry *Registry
	relay    *Relay

	listener  net.Listener
	startTime time.Time

	mu     sync.Mutex
	closed bool
}

// NewServer wires a control server over the given store.
func NewServer(store *storage.Store, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	registry := NewRegistry()
	return &Server{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		relay:     NewRelay(registry),
		startTime: time.Now(),
	}
}

// Registry exposes the session registry for the status API.
func (s *Server) Registry() *Registry { return s.registry }

// MediaRelay exposes the relay for the status API.
func (s *Server) MediaRelay() *Relay { return s.relay }

// Uptime reports time since Start.
func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

// Start binds the control listener and the media sockets.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.TCPAddr)
	if err != nil {
		return err
	}

	if err := s.relay.Start(s.cfg.AudioAddr, s.cfg.VideoAddr); err != nil {
		listener.Close()
		return err
	}

	s.listener = listener
	s.startTime = time.Now()
	log.Printf("[SERVER] Control channel listening on %s", listener.Addr())

	go s.acceptLoop()
	return nil
}

// Addr returns the bound control listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Stop closes the listener, the media sockets and every live session.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.relay.Stop()

	for _, sess := range s.registry.Sessions() {
		sess.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			log.Printf("[SERVER] Accept failed: %v", err)
			continue
		}

		go s.handleConn(conn)
	}
}

// client is the per-connection protocol state machine.
type client struct {
	server *Server
	conn   net.Conn
	fr     *protocol.FrameReader

	session      *Session // nil until authenticated
	authFailures int
	violations   int
}

// errCloseConn signals a clean, intentional connection close (logout,
// brute-force cutoff, violation cutoff).
var errCloseConn = errors.New("closing connection")

func (s *Server) handleConn(conn net.Conn) {
	c := &client{
		server: s,
		conn:   conn,
		fr:     protocol.NewFrameReader(conn),
	}

	defer func() {
		conn.Close()
		if c.session != nil && s.registry.Deregister(c.session) {
			log.Printf("[DISCONNECT] %s", c.session.Username)
			s.broadcastUserList()
		}
	}()

	for {
		if err := c.setReadDeadline(); err != nil {
			return
		}

		payload, err := c.fr.ReadFrame()
		if err != nil {
			c.reportReadError(err)
			return
		}

		env, err := protocol.DecodeEnvelope(payload)
		if err != nil {
			// Malformed payloads are transport-fatal: framing can no
			// longer be trusted.
			c.sendError("malformed_payload", "unparseable message")
			return
		}

		if c.session != nil {
			c.session.Touch()
		}

		if err := c.dispatch(env); err != nil {
			if !errors.Is(err, errCloseConn) {
				log.Printf("[SERVER] %s: %v", c.peerName(), err)
			}
			return
		}
	}
}

func (c *client) setReadDeadline() error {
	timeout := c.server.cfg.UnauthGrace
	if c.session != nil {
		timeout = c.server.cfg.IdleTimeout
	}
	return c.conn.SetReadDeadline(time.Now().Add(timeout))
}

// reportReadError tells the client why the connection is being dropped,
// when there is anything useful to say.
func (c *client) reportReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
	case errors.Is(err, protocol.ErrPayloadTooLarge):
		c.sendError("payload_too_large", "message exceeds size limit")
	case errors.Is(err, protocol.ErrFraming):
		c.sendError("framing", "invalid length header")
	}
}

// handlerEntry is one row of the state transition table.
type handlerEntry struct {
	needsAuth bool
	fn        func(*client, *protocol.Envelope) error
}

// handlers is the explicit dispatch table: every accepted message type,
// the state it requires, and its handler. Anything else is a violation.
var handlers = map[string]handlerEntry{
	protocol.MsgSignup:          {false, (*client).handleSignup},
	protocol.MsgLogin:           {false, (*client).handleLogin},
	protocol.MsgLogout:          {true, (*client).handleLogout},
	protocol.MsgPrivate:         {true, (*client).handlePrivate},
	protocol.MsgFile:            {true, (*client).handleFile},
	protocol.MsgVoiceMsg:        {true, (*client).handleVoiceMsg},
	protocol.MsgHistory:         {true, (*client).handleHistory},
	protocol.MsgCall:            {true, (*client).handleCallSignal},
	protocol.MsgCallAccept:      {true, (*client).handleCallSignal},
	protocol.MsgCallReject:      {true, (*client).handleCallSignal},
	protocol.MsgCallEnd:         {true, (*client).handleCallSignal},
	protocol.MsgGroupCreate:     {true, (*client).handleGroupCreate},
	protocol.MsgGroupJoin:       {true, (*client).handleGroupJoin},
	protocol.MsgGroupLeave:      {true, (*client).handleGroupLeave},
	protocol.MsgGroupMsg:        {true, (*client).handleGroupMsg},
	protocol.MsgGroupFile:       {true, (*client).handleGroupFile},
	protocol.MsgGroupVoice:      {true, (*client).handleGroupVoice},
	protocol.MsgGroupCall:       {true, (*client).handleGroupCall},
	protocol.MsgGroupCallAccept: {true, (*client).handleGroupCallAccept},
	protocol.MsgGroupAddUser:    {true, (*client).handleGroupAddUser},
}

// dispatch routes one message through the state transition table. A type
// invalid for the current state is a protocol violation: the message is
// dropped with an error frame and the connection survives until the
// violation limit.
func (c *client) dispatch(env *protocol.Envelope) error {
	entry, known := handlers[env.Type]

	authenticated := c.session != nil
	if !known || entry.needsAuth != authenticated {
		return c.violation(env.Type)
	}

	return entry.fn(c, env)
}

func (c *client) violation(msgType string) error {
	c.violations++
	log.Printf("[SERVER] %s: protocol violation (%q), %d/%d", c.peerName(), msgType, c.violations, c.server.cfg.ViolationLimit)
	c.sendError("protocol_violation", "message not valid in current state")

	if c.violations >= c.server.cfg.ViolationLimit {
		return errCloseConn
	}
	return nil
}

// send writes an outbound message on this connection, before or after
// authentication.
func (c *client) send(v any) error {
	if c.session != nil {
		return c.session.Send(v)
	}

	payload, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(c.conn, payload)
}

func (c *client) sendError(code, message string) {
	if err := c.send(protocol.NewErrorFrame(code, message)); err != nil {
		log.Printf("[SERVER] %s: error frame not delivered: %v", c.peerName(), err)
	}
}

func (c *client) peerName() string {
	if c.session != nil {
		return c.session.Username
	}
	return c.conn.RemoteAddr().String()
}
