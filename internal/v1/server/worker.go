package server

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/logging"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/metrics"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/protocol"
)

// Connection worker states.
type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateTerminating
)

// NAK bodies fixed by the wire contract.
const (
	errNotLoggedIn   = "Not logged in."
	errNoSession     = "Session does not exist."
	errNotInSession  = "Not in session."
	errSessionExists = "Session already exists."
	errCannotMessage = "Cannot send message, not in session"
	errUnknown       = "Unknown request."
)

// serveConn drives one accepted connection from hello to goodbye: read a
// request, dispatch it, write the response, repeat until EXIT or EOF.
func (s *Server) serveConn(c *Conn) {
	ctx := context.WithValue(context.Background(), logging.ConnectionIDKey, c.ID())

	defer func() {
		// Rooms must drop their references before the connection goes away.
		s.registry.RemoveEverywhere(c)
		c.Close()
		logging.Info(ctx, "Client disconnected", zap.String("client_id", c.ClientID()))
		// Released last: a drained server has no worker left mid-teardown.
		s.releaseSlot(c)
	}()

	state := stateUnauthenticated
	r := bufio.NewReaderSize(c.netConn, protocol.MaxPacketSize)

	for state != stateTerminating {
		req, raw, err := protocol.ReadPacketBytes(r)
		if err != nil {
			if malformed(err) {
				logging.Warn(ctx, "Malformed packet", zap.Error(err))
				if serr := c.Send(protocol.NewResponsePacket(protocol.Unknown, errUnknown)); serr != nil {
					return
				}
				continue
			}
			// EOF and read errors both mean the peer is gone.
			return
		}

		var resp *protocol.Packet
		resp, state = s.dispatch(ctx, c, state, req, raw)

		if resp != nil {
			if err := c.Send(resp); err != nil {
				logging.Warn(ctx, "Failed to write response", zap.Error(err))
				return
			}
		}
	}
}

// malformed distinguishes protocol rot, which gets an UNKNOWN response,
// from transport errors, which end the connection.
func malformed(err error) bool {
	return errors.Is(err, protocol.ErrBadHeader) ||
		errors.Is(err, protocol.ErrNameTooLong) ||
		errors.Is(err, protocol.ErrDataTooLong)
}

// dispatch routes one request packet by type and returns the response packet
// (nil for EXIT) and the next worker state.
func (s *Server) dispatch(ctx context.Context, c *Conn, state connState, req *protocol.Packet, raw []byte) (*protocol.Packet, connState) {
	ctx, span := s.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("packet.type", req.Type.String()),
			attribute.String("packet.source", req.Source),
			attribute.Int("packet.size", req.Size()),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(req.Type.String()).Observe(time.Since(start).Seconds())
	}()

	if gate := s.checkAuthenticated(c, state, req); gate != nil {
		metrics.PacketsDispatched.WithLabelValues(req.Type.String(), "nak").Inc()
		return gate, state
	}

	var resp *protocol.Packet
	next := state

	switch req.Type {
	case protocol.Login:
		resp = s.handleLogin(ctx, c, req)
		if resp.Type == protocol.LoginAck {
			next = stateAuthenticated
		}
	case protocol.Exit:
		s.handleExit(ctx, c)
		return nil, stateTerminating
	case protocol.Join:
		resp = s.handleJoin(ctx, c, req)
	case protocol.Leave:
		resp = s.handleLeave(ctx, c, req)
	case protocol.NewSess:
		resp = s.handleCreate(ctx, c, req)
	case protocol.Query:
		resp = protocol.NewResponsePacket(protocol.QueryAck, s.registry.Listing())
	case protocol.Message:
		resp = s.handleMessage(ctx, c, req, raw)
	default:
		resp = protocol.NewResponsePacket(protocol.Unknown, errUnknown)
	}

	status := "ack"
	switch resp.Type {
	case protocol.LoginNak, protocol.JoinNak, protocol.LeaveNak,
		protocol.NewSessNak, protocol.MessageNak, protocol.QueryNak, protocol.Unknown:
		status = "nak"
	}
	metrics.PacketsDispatched.WithLabelValues(req.Type.String(), status).Inc()

	return resp, next
}

// checkAuthenticated enforces the authentication gate: every request except
// LOGIN and EXIT must carry the source the connection logged in as. EXIT is
// exempt because it never gets a response.
func (s *Server) checkAuthenticated(c *Conn, state connState, req *protocol.Packet) *protocol.Packet {
	if req.Type == protocol.Login || req.Type == protocol.Exit {
		return nil
	}
	if state == stateAuthenticated && req.Source == c.ClientID() {
		return nil
	}
	return protocol.NewResponsePacket(nakFor(req.Type), errNotLoggedIn)
}

// nakFor maps a request type onto its NAK variant.
func nakFor(t protocol.PacketType) protocol.PacketType {
	switch t {
	case protocol.Login:
		return protocol.LoginNak
	case protocol.Join:
		return protocol.JoinNak
	case protocol.Leave:
		return protocol.LeaveNak
	case protocol.NewSess:
		return protocol.NewSessNak
	case protocol.Query:
		return protocol.QueryNak
	case protocol.Message:
		return protocol.MessageNak
	}
	return protocol.Unknown
}

// handleLogin verifies the credentials in the body against the directory,
// refuses ids that are already live, and records the id on the connection.
// The password check runs before the duplicate check.
func (s *Server) handleLogin(ctx context.Context, c *Conn, req *protocol.Packet) *protocol.Packet {
	user, pass, found := strings.Cut(string(req.Data), ",")
	if !found || user != req.Source {
		return protocol.NewResponsePacket(protocol.LoginNak, "")
	}
	if !s.registry.Users().Authenticate(req.Source, pass) {
		logging.Warn(ctx, "Login rejected", zap.String("client_id", req.Source))
		return protocol.NewResponsePacket(protocol.LoginNak, "")
	}
	if s.clientIDInUse(req.Source) {
		logging.Warn(ctx, "Duplicate login rejected", zap.String("client_id", req.Source))
		return protocol.NewResponsePacket(protocol.LoginNak, "")
	}

	c.setClientID(req.Source)
	logging.Info(ctx, "Client logged in", zap.String("client_id", req.Source))
	return protocol.NewResponsePacket(protocol.LoginAck, req.Source)
}

// handleExit removes the connection from every room. EXIT gets no response;
// the worker transitions straight to teardown.
func (s *Server) handleExit(ctx context.Context, c *Conn) {
	s.registry.RemoveEverywhere(c)
	logging.Info(ctx, "Client exiting", zap.String("client_id", c.ClientID()))
}

func (s *Server) handleJoin(ctx context.Context, c *Conn, req *protocol.Packet) *protocol.Packet {
	name := string(req.Data)
	if err := s.registry.JoinRoom(name, c); err != nil {
		return protocol.NewResponsePacket(protocol.JoinNak, errNoSession)
	}
	logging.Info(ctx, "Client joined session",
		zap.String("client_id", c.ClientID()), zap.String("room", name))
	return protocol.NewResponsePacket(protocol.JoinAck, name)
}

func (s *Server) handleLeave(ctx context.Context, c *Conn, req *protocol.Packet) *protocol.Packet {
	name := string(req.Data)
	switch err := s.registry.LeaveRoom(name, c); err {
	case nil:
		logging.Info(ctx, "Client left session",
			zap.String("client_id", c.ClientID()), zap.String("room", name))
		return protocol.NewResponsePacket(protocol.LeaveAck, "")
	case ErrNotMember:
		return protocol.NewResponsePacket(protocol.LeaveNak, errNotInSession)
	default:
		return protocol.NewResponsePacket(protocol.LeaveNak, errNoSession)
	}
}

func (s *Server) handleCreate(ctx context.Context, c *Conn, req *protocol.Packet) *protocol.Packet {
	name := string(req.Data)
	if err := s.registry.CreateRoom(name, c); err != nil {
		return protocol.NewResponsePacket(protocol.NewSessNak, errSessionExists)
	}
	logging.Info(ctx, "Created session",
		zap.String("client_id", c.ClientID()), zap.String("room", name))
	return protocol.NewResponsePacket(protocol.NewSessAck, name)
}

// handleMessage forwards the original request bytes to every other member
// of the room. Forwarding is best-effort: a failed send to one member does
// not abort the loop. Each destination's send lock is held only for that
// destination's write.
func (s *Server) handleMessage(ctx context.Context, c *Conn, req *protocol.Packet, raw []byte) *protocol.Packet {
	room, _ := protocol.SplitMessageBody(req.Data)

	members, isMember := s.registry.Members(room, c)
	if !isMember {
		// A missing room is indistinguishable from not being a member.
		return protocol.NewResponsePacket(protocol.MessageNak, errCannotMessage)
	}

	sent := 0
	for _, member := range members {
		if member == c {
			continue
		}
		if err := member.SendRaw(raw); err != nil {
			logging.Warn(ctx, "Broadcast send failed",
				zap.String("room", room),
				zap.String("dest", member.ClientID()),
				zap.Error(err))
			continue
		}
		sent++
	}
	metrics.BroadcastFanout.Observe(float64(sent))

	logging.Info(ctx, "Broadcast message",
		zap.String("client_id", c.ClientID()),
		zap.String("room", room),
		zap.Int("fanout", sent))
	return protocol.NewResponsePacket(protocol.MessageAck, "")
}
