package protocol

import "fmt"

// Request constructors. Each helper fills Source from the client id and
// encodes the body the way the server's dispatcher expects it.

// NewLoginPacket builds a LOGIN request. Body: "<user>,<pass>".
func NewLoginPacket(clientID, password string) *Packet {
	return &Packet{
		Type:   Login,
		Source: clientID,
		Data:   fmt.Appendf(nil, "%s,%s", clientID, password),
	}
}

// NewLogoutPacket builds an EXIT request. EXIT carries no body and receives
// no response; the server tears the connection down on receipt.
func NewLogoutPacket(clientID string) *Packet {
	return &Packet{Type: Exit, Source: clientID}
}

// NewQueryPacket builds a QUERY request. The body echoes the client id; the
// server ignores it.
func NewQueryPacket(clientID string) *Packet {
	return &Packet{Type: Query, Source: clientID, Data: []byte(clientID)}
}

// NewMessagePacket builds a MESSAGE request. Body: "<room>;<text>". The text
// is the literal line to broadcast; the first ';' terminates the room name.
func NewMessagePacket(clientID, room, text string) *Packet {
	return &Packet{
		Type:   Message,
		Source: clientID,
		Data:   fmt.Appendf(nil, "%s;%s", room, text),
	}
}

// NewSessionPacket builds a NEW_SESS request. Body: "<room>".
func NewSessionPacket(clientID, room string) *Packet {
	return &Packet{Type: NewSess, Source: clientID, Data: []byte(room)}
}

// NewJoinPacket builds a JOIN request. Body: "<room>".
func NewJoinPacket(clientID, room string) *Packet {
	return &Packet{Type: Join, Source: clientID, Data: []byte(room)}
}

// NewLeavePacket builds a LEAVE_SESS request. Body: "<room>".
func NewLeavePacket(clientID, room string) *Packet {
	return &Packet{Type: Leave, Source: clientID, Data: []byte(room)}
}

// NewResponsePacket builds a server response. ACK variants echo the room or
// client name in body; NAK variants carry a human-readable error string.
func NewResponsePacket(t PacketType, body string) *Packet {
	return &Packet{Type: t, Data: []byte(body)}
}

// SplitMessageBody splits a MESSAGE body "<room>;<text>" at the first ';'.
// A body without a ';' is all room name and empty text, matching how the
// server scans for the delimiter.
func SplitMessageBody(data []byte) (room, text string) {
	for i, b := range data {
		if b == ';' {
			return string(data[:i]), string(data[i+1:])
		}
	}
	return string(data), ""
}
