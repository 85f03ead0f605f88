package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/protocol"
)

// sendTimeout bounds a single write so one stalled member cannot wedge a
// broadcasting worker forever.
const sendTimeout = 10 * time.Second

// Conn is the server's handle on one accepted TCP client. The owning worker
// is the only reader of the socket; writes come from the owning worker
// (responses) and from other workers broadcasting into a shared room, so
// every write goes through sendMu.
type Conn struct {
	id       string // stable identifier, assigned at accept
	netConn  net.Conn
	remote   string
	sendMu   sync.Mutex // serializes writes to the socket
	mu       sync.Mutex // guards the mutable identity fields
	clientID string     // empty until a successful LOGIN
	room     string     // current room name, empty when not in a room
	alive    bool
}

// newConn wraps an accepted socket.
func newConn(nc net.Conn) *Conn {
	return &Conn{
		id:      uuid.New().String(),
		netConn: nc,
		remote:  nc.RemoteAddr().String(),
		alive:   true,
	}
}

// ID returns the connection's stable identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address, for logs and rate limiting.
func (c *Conn) RemoteAddr() string { return c.remote }

// ClientID returns the authenticated client id, or "" before login.
func (c *Conn) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Conn) setClientID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = id
}

// Room returns the room this connection most recently joined on the server,
// or "" when it is in none.
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Conn) setRoom(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = name
}

// Send serializes and writes a packet under the connection's send lock.
func (c *Conn) Send(p *protocol.Packet) error {
	buf, err := protocol.Marshal(p)
	if err != nil {
		return err
	}
	return c.SendRaw(buf)
}

// SendRaw writes pre-serialized packet bytes under the send lock. The lock
// is held only for this one write; a broadcasting worker moves on to the
// next destination as soon as the write returns.
func (c *Conn) SendRaw(buf []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.netConn.SetWriteDeadline(time.Now().Add(sendTimeout))
	_, err := c.netConn.Write(buf)
	return err
}

// Close tears the socket down. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	wasAlive := c.alive
	c.alive = false
	c.mu.Unlock()
	if !wasAlive {
		return nil
	}
	return c.netConn.Close()
}
