// Package protocol implements the wire format shared by the conferencing
// server and client.
//
// A packet on the wire is a text header followed by a binary body:
//
//	<type>:<size>:<source>:<payload bytes>
//
// where <type> and <size> are ASCII decimal integers, <source> is the
// sender's client id (at most MaxName bytes, never containing ':'), and the
// payload is exactly <size> raw bytes. The payload is not escaped; it may
// contain any byte, including ':' and NUL. Only the first three ':' bytes
// delimit the header.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Configurable packet dimensions.
const (
	// MaxName bounds the source field of a packet.
	MaxName = 64
	// MaxData bounds the payload of a packet.
	MaxData = 2048
	// MaxPacketSize bounds a whole serialized packet, including the header.
	// Header overhead is two decimal integers and three separators.
	MaxPacketSize = MaxName + MaxData + 32

	// maxHeaderSize bounds the text header alone.
	maxHeaderSize = MaxPacketSize - MaxData
)

// PacketType tags a packet with its meaning. The wire values are fixed and
// shared with every deployed peer; never renumber them.
type PacketType uint

const (
	Login      PacketType = 1
	LoginAck   PacketType = 2
	LoginNak   PacketType = 3
	Exit       PacketType = 4
	Join       PacketType = 5
	JoinAck    PacketType = 6
	JoinNak    PacketType = 7
	Leave      PacketType = 8
	LeaveAck   PacketType = 9
	LeaveNak   PacketType = 10
	NewSess    PacketType = 11
	NewSessAck PacketType = 12
	NewSessNak PacketType = 13
	Message    PacketType = 14
	MessageAck PacketType = 15
	MessageNak PacketType = 16
	Query      PacketType = 17
	QueryAck   PacketType = 18
	QueryNak   PacketType = 19
	Unknown    PacketType = 20
)

// String returns a short human-readable tag for logs.
func (t PacketType) String() string {
	switch t {
	case Login:
		return "LOGIN"
	case LoginAck:
		return "LO_ACK"
	case LoginNak:
		return "LO_NAK"
	case Exit:
		return "EXIT"
	case Join:
		return "JOIN"
	case JoinAck:
		return "JN_ACK"
	case JoinNak:
		return "JN_NAK"
	case Leave:
		return "LEAVE_SESS"
	case LeaveAck:
		return "LS_ACK"
	case LeaveNak:
		return "LS_NACK"
	case NewSess:
		return "NEW_SESS"
	case NewSessAck:
		return "NS_ACK"
	case NewSessNak:
		return "NS_NAK"
	case Message:
		return "MESSAGE"
	case MessageAck:
		return "MESSAGE_ACK"
	case MessageNak:
		return "MESSAGE_NCK"
	case Query:
		return "QUERY"
	case QueryAck:
		return "QU_ACK"
	case QueryNak:
		return "QU_NACK"
	case Unknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("PacketType(%d)", uint(t))
}

// Packet is the unit of communication between client and server.
type Packet struct {
	Type   PacketType
	Source string // identity of the originating party
	Data   []byte // opaque payload; semantics depend on Type
}

// Size returns the payload length that is written as the <size> header field.
func (p *Packet) Size() int { return len(p.Data) }

// Codec validation errors.
var (
	ErrBadHeader   = errors.New("protocol: malformed packet header")
	ErrShortPacket = errors.New("protocol: declared size exceeds payload")
	ErrNameTooLong = errors.New("protocol: source exceeds maximum length")
	ErrDataTooLong = errors.New("protocol: payload exceeds maximum length")
)

// Marshal serializes p into its transport representation.
func Marshal(p *Packet) ([]byte, error) {
	if len(p.Source) > MaxName || bytes.ContainsRune([]byte(p.Source), ':') {
		return nil, ErrNameTooLong
	}
	if len(p.Data) > MaxData {
		return nil, ErrDataTooLong
	}
	buf := make([]byte, 0, len(p.Source)+len(p.Data)+16)
	buf = strconv.AppendUint(buf, uint64(p.Type), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(len(p.Data)), 10)
	buf = append(buf, ':')
	buf = append(buf, p.Source...)
	buf = append(buf, ':')
	buf = append(buf, p.Data...)
	return buf, nil
}

// Parse decodes a serialized packet. The header ends at the third ':'; every
// later byte belongs to the payload. A packet that declares more payload
// bytes than the buffer carries is malformed.
func Parse(buf []byte) (*Packet, error) {
	header, payload, err := splitHeader(buf)
	if err != nil {
		return nil, err
	}

	fields := bytes.SplitN(header, []byte{':'}, 3)
	typ, size, source, err := parseFields(fields[0], fields[1], fields[2])
	if err != nil {
		return nil, err
	}
	if size > len(payload) {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrShortPacket, size, len(payload))
	}

	data := make([]byte, size)
	copy(data, payload[:size])
	return &Packet{Type: typ, Source: source, Data: data}, nil
}

// parseFields validates the three header fields.
func parseFields(typeField, sizeField, sourceField []byte) (PacketType, int, string, error) {
	typ, err := strconv.ParseUint(string(typeField), 10, 32)
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: type %q", ErrBadHeader, typeField)
	}
	size, err := strconv.Atoi(string(sizeField))
	if err != nil || size < 0 {
		return 0, 0, "", fmt.Errorf("%w: size %q", ErrBadHeader, sizeField)
	}
	if size > MaxData {
		return 0, 0, "", ErrDataTooLong
	}
	if len(sourceField) > MaxName {
		return 0, 0, "", ErrNameTooLong
	}
	return PacketType(typ), size, string(sourceField), nil
}

// ReadPacket decodes the next packet from r, consuming exactly the bytes
// that belong to it: the header through its third ':', then the declared
// number of payload bytes. A packet split across TCP segments reassembles;
// packets coalesced into one segment come back one call at a time.
func ReadPacket(r *bufio.Reader) (*Packet, error) {
	p, _, err := ReadPacketBytes(r)
	return p, err
}

// ReadPacketBytes is ReadPacket returning, in addition, the exact wire bytes
// consumed, so a broker can forward them without re-serializing.
func ReadPacketBytes(r *bufio.Reader) (*Packet, []byte, error) {
	raw := make([]byte, 0, maxHeaderSize)
	var marks [3]int
	colons := 0
	for colons < 3 {
		b, err := r.ReadByte()
		if err != nil {
			return nil, nil, err
		}
		if b == ':' {
			marks[colons] = len(raw)
			colons++
		}
		raw = append(raw, b)
		if colons < 3 && len(raw) >= maxHeaderSize {
			return nil, nil, fmt.Errorf("%w: no header in %d bytes", ErrBadHeader, len(raw))
		}
	}

	typ, size, source, err := parseFields(raw[:marks[0]], raw[marks[0]+1:marks[1]], raw[marks[1]+1:marks[2]])
	if err != nil {
		return nil, nil, err
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, nil, fmt.Errorf("protocol: short payload read: %w", err)
	}
	raw = append(raw, data...)
	return &Packet{Type: typ, Source: source, Data: data}, raw, nil
}

// splitHeader locates the third ':' and returns the header bytes before it
// and the payload bytes after it.
func splitHeader(buf []byte) (header, payload []byte, err error) {
	colons := 0
	for i, b := range buf {
		if b != ':' {
			continue
		}
		colons++
		if colons == 3 {
			return buf[:i], buf[i+1:], nil
		}
	}
	return nil, nil, fmt.Errorf("%w: found %d of 3 separators", ErrBadHeader, colons)
}
