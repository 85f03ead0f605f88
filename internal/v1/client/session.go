// Package client implements the interactive conferencing client: a single
// TCP session shared by the foreground command loop and a background reader,
// plus the tab model that maps typed text onto rooms.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/protocol"
)

const (
	// MaxTabs is the number of concurrent room slots a client holds.
	MaxTabs = 4

	// timeoutRTTMult scales the login round-trip time into the socket
	// timeout used for every later request.
	timeoutRTTMult = 3

	// timeoutFloor bounds the calibrated timeout from below when the
	// measured round trip is too small to be useful.
	timeoutFloor = 2500 * time.Microsecond

	// handshakeTimeout bounds the login exchange itself, before any
	// round-trip measurement exists.
	handshakeTimeout = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("client: not logged in")
	ErrInSession    = errors.New("client: active tab already in a session")
	ErrNoSession    = errors.New("client: active tab not in a session")
	ErrTimeout      = errors.New("client: timed out waiting for response")
	ErrClosed       = errors.New("client: connection closed")
)

// Broadcast is a room message delivered asynchronously by the server.
// Room comes from the payload itself, so a broadcast for a room not joined
// on any tab still carries the right name.
type Broadcast struct {
	Room   string
	Sender string
	Text   string
}

// Session owns the client side of one server connection. A single reader
// goroutine decodes everything arriving on the socket and routes it by type:
// synchronous responses onto an internal channel consumed by the request in
// flight, MESSAGE broadcasts to the OnBroadcast callback. The foreground
// serializes its writes under mu; nothing but the reader ever reads.
type Session struct {
	// OnBroadcast, when set before Login, is invoked from the reader
	// goroutine for every incoming room message.
	OnBroadcast func(Broadcast)

	mu       sync.Mutex
	conn     net.Conn
	clientID string
	timeout  time.Duration

	responses  chan *protocol.Packet
	readerDone chan struct{}

	// Tabs have their own lock so the reader goroutine can render a
	// prompt while a request is waiting under mu.
	tabMu   sync.Mutex
	tabs    [MaxTabs]string
	current int
}

// NewSession returns a disconnected session. Tabs exist before login; only
// Login opens the socket.
func NewSession() *Session {
	return &Session{}
}

// Login dials the server, authenticates, calibrates the socket timeout from
// the measured round trip, and starts the background reader. The returned
// error wraps the server's LO_NAK body when authentication is refused.
func (s *Session) Login(clientID, password, host, port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return errors.New("client: already logged in")
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), handshakeTimeout)
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}

	buf, err := protocol.Marshal(protocol.NewLoginPacket(clientID, password))
	if err != nil {
		conn.Close()
		return fmt.Errorf("client: encode login: %w", err)
	}

	// The login exchange doubles as the RTT probe.
	start := time.Now()
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return fmt.Errorf("client: set handshake deadline: %w", err)
	}
	if _, err := conn.Write(buf); err != nil {
		conn.Close()
		return fmt.Errorf("client: send login: %w", err)
	}
	r := bufio.NewReaderSize(conn, protocol.MaxPacketSize)
	resp, err := protocol.ReadPacket(r)
	if err != nil {
		conn.Close()
		return fmt.Errorf("client: login response: %w", err)
	}
	rtt := time.Since(start)

	if resp.Type != protocol.LoginAck {
		conn.Close()
		return fmt.Errorf("client: login refused: %s", resp.Data)
	}

	s.timeout = timeoutRTTMult * rtt
	if s.timeout < timeoutFloor {
		s.timeout = timeoutFloor
	}

	// Lift the handshake deadline; the reader blocks until data or close,
	// and requests bound their own waits with the calibrated timeout.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("client: clear handshake deadline: %w", err)
	}

	s.conn = conn
	s.clientID = string(resp.Data)
	s.resetTabs()
	s.responses = make(chan *protocol.Packet, 1)
	s.readerDone = make(chan struct{})
	go s.readLoop(r, s.readerDone)
	return nil
}

// readLoop is the only reader of the socket after login. It routes MESSAGE
// packets to OnBroadcast and everything else to the response channel, and
// exits on EOF or close.
func (s *Session) readLoop(r *bufio.Reader, done chan struct{}) {
	defer close(done)
	for {
		p, err := protocol.ReadPacket(r)
		if err != nil {
			return
		}
		if p.Type == protocol.Message {
			s.deliverBroadcast(p)
			continue
		}
		// A response nobody is waiting for (it arrived after the
		// request gave up) is dropped rather than wedging the reader.
		select {
		case s.responses <- p:
		default:
		}
	}
}

func (s *Session) deliverBroadcast(p *protocol.Packet) {
	cb := s.OnBroadcast
	if cb == nil {
		return
	}
	room, text := protocol.SplitMessageBody(p.Data)
	cb(Broadcast{Room: room, Sender: p.Source, Text: text})
}

// answers reports whether a response of type resp concludes a request of
// type req. UNKNOWN answers anything: it is the server saying it could not
// read the request at all.
func answers(req, resp protocol.PacketType) bool {
	if resp == protocol.Unknown {
		return true
	}
	switch req {
	case protocol.Login:
		return resp == protocol.LoginAck || resp == protocol.LoginNak
	case protocol.Join:
		return resp == protocol.JoinAck || resp == protocol.JoinNak
	case protocol.Leave:
		return resp == protocol.LeaveAck || resp == protocol.LeaveNak
	case protocol.NewSess:
		return resp == protocol.NewSessAck || resp == protocol.NewSessNak
	case protocol.Query:
		return resp == protocol.QueryAck || resp == protocol.QueryNak
	case protocol.Message:
		return resp == protocol.MessageAck || resp == protocol.MessageNak
	}
	return false
}

// roundTrip sends a request and waits for the reader to hand back its
// response, bounded by the calibrated timeout. A reply to an earlier request
// that timed out must never be taken as this one's: anything already
// buffered is dropped before the write, and anything arriving that does not
// answer this request's type is discarded. Callers hold s.mu.
func (s *Session) roundTrip(p *protocol.Packet) (*protocol.Packet, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	buf, err := protocol.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("client: encode %s: %w", p.Type, err)
	}

	select {
	case <-s.responses:
	default:
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, fmt.Errorf("client: set write deadline: %w", err)
	}
	if _, err := s.conn.Write(buf); err != nil {
		return nil, fmt.Errorf("client: send %s: %w", p.Type, err)
	}

	deadline := time.After(s.timeout)
	for {
		select {
		case resp := <-s.responses:
			if !answers(p.Type, resp.Type) {
				continue
			}
			return resp, nil
		case <-s.readerDone:
			return nil, ErrClosed
		case <-deadline:
			return nil, ErrTimeout
		}
	}
}

// Logout sends EXIT and closes the socket. EXIT is fire-and-forget; the
// server never answers it.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	buf, err := protocol.Marshal(protocol.NewLogoutPacket(s.clientID))
	if err == nil {
		s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
		_, err = s.conn.Write(buf)
	}
	s.closeLocked()
	return err
}

// Close tears the connection down without the EXIT courtesy, for process
// shutdown paths.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.closeLocked()
	}
}

func (s *Session) closeLocked() {
	conn := s.conn
	done := s.readerDone
	s.conn = nil
	s.clientID = ""
	s.resetTabs()
	conn.Close()
	if done != nil {
		<-done
	}
}

func (s *Session) resetTabs() {
	s.tabMu.Lock()
	defer s.tabMu.Unlock()
	s.tabs = [MaxTabs]string{}
	s.current = 0
}

func (s *Session) activeTabRoom() string {
	s.tabMu.Lock()
	defer s.tabMu.Unlock()
	return s.tabs[s.current]
}

func (s *Session) setActiveTabRoom(room string) {
	s.tabMu.Lock()
	defer s.tabMu.Unlock()
	s.tabs[s.current] = room
}

// CreateSession creates a room and joins the active tab to it. The active
// tab must be free; the server echoes the room name it registered.
func (s *Session) CreateSession(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	if s.activeTabRoom() != "" {
		return ErrInSession
	}
	resp, err := s.roundTrip(protocol.NewSessionPacket(s.clientID, room))
	if err != nil {
		return err
	}
	if resp.Type != protocol.NewSessAck {
		return fmt.Errorf("client: create session refused: %s", resp.Data)
	}
	s.setActiveTabRoom(string(resp.Data))
	return nil
}

// JoinSession joins the active tab to an existing room.
func (s *Session) JoinSession(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	resp, err := s.roundTrip(protocol.NewJoinPacket(s.clientID, room))
	if err != nil {
		return err
	}
	if resp.Type != protocol.JoinAck {
		return fmt.Errorf("client: join refused: %s", resp.Data)
	}
	s.setActiveTabRoom(string(resp.Data))
	return nil
}

// LeaveSession removes the active tab from its room.
func (s *Session) LeaveSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	room := s.activeTabRoom()
	if room == "" {
		return ErrNoSession
	}
	resp, err := s.roundTrip(protocol.NewLeavePacket(s.clientID, room))
	if err != nil {
		return err
	}
	if resp.Type != protocol.LeaveAck {
		return fmt.Errorf("client: leave refused: %s", resp.Data)
	}
	s.setActiveTabRoom("")
	return nil
}

// List fetches the server's room listing.
func (s *Session) List() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return "", ErrNotConnected
	}
	resp, err := s.roundTrip(protocol.NewQueryPacket(s.clientID))
	if err != nil {
		return "", err
	}
	if resp.Type != protocol.QueryAck {
		return "", fmt.Errorf("client: listing refused: %s", resp.Data)
	}
	return string(resp.Data), nil
}

// SendText delivers typed text to the active tab's room.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	room := s.activeTabRoom()
	if room == "" {
		return ErrNoSession
	}
	resp, err := s.roundTrip(protocol.NewMessagePacket(s.clientID, room, text))
	if err != nil {
		return err
	}
	if resp.Type != protocol.MessageAck {
		return fmt.Errorf("client: message refused: %s", resp.Data)
	}
	return nil
}

// SwitchTab makes the 1-based tab n active.
func (s *Session) SwitchTab(n int) error {
	s.tabMu.Lock()
	defer s.tabMu.Unlock()
	if n < 1 || n > MaxTabs {
		return fmt.Errorf("client: no tab %d", n)
	}
	s.current = n - 1
	return nil
}

// CycleTab advances to the next tab and returns its 1-based number.
func (s *Session) CycleTab() int {
	s.tabMu.Lock()
	defer s.tabMu.Unlock()
	s.current = (s.current + 1) % MaxTabs
	return s.current + 1
}

// CurrentTab returns the active tab's 1-based number.
func (s *Session) CurrentTab() int {
	s.tabMu.Lock()
	defer s.tabMu.Unlock()
	return s.current + 1
}

// ActiveRoom returns the room joined on the active tab, or "".
func (s *Session) ActiveRoom() string {
	return s.activeTabRoom()
}

// LoggedIn reports whether a login has succeeded and the socket is open.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// ClientID returns the id echoed by the server at login.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// Timeout returns the RTT-calibrated socket timeout.
func (s *Session) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// Prompt renders the input prompt for the active tab. Safe to call from
// the broadcast callback.
func (s *Session) Prompt() string {
	s.tabMu.Lock()
	defer s.tabMu.Unlock()
	if room := s.tabs[s.current]; room != "" {
		return "Tab " + strconv.Itoa(s.current+1) + " '" + room + "'> "
	}
	return "Tab " + strconv.Itoa(s.current+1) + "> "
}
