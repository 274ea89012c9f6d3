// Package protocol implements the line-oriented packet envelope exchanged with
// game clients and the typed payload records carried inside it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrProtocol marks a frame or payload that cannot be understood. A connection
// that produces one is closed.
var ErrProtocol = errors.New("protocol error")

// Command names recognised by the server.
const (
	CmdLogin         = "LoginPacket"
	CmdLoginResponse = "LoginResponsePacket"
	CmdPlayerRecount = "PlayerRecountPacket"
	CmdVisit         = "VisitPacket"
	CmdRaid          = "RaidPacket"
	CmdIllegalAction = "IllegalActionPacket"
)

// Packet is one protocol frame: a command name plus ordered payload strings.
// Packets are treated as immutable once built.
type Packet struct {
	Command  string   `json:"header"`
	Payloads []string `json:"contents"`
}

// NewPacket builds a packet whose single payload is the compact JSON encoding of payload.
// A nil payload produces a packet with no contents.
//
// Postcondition: Returns a packet ready for Encode, or an error if payload cannot be marshalled.
func NewPacket(command string, payload any) (Packet, error) {
	if payload == nil {
		return Packet{Command: command}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Packet{}, fmt.Errorf("marshalling %s payload: %w", command, err)
	}
	return Packet{Command: command, Payloads: []string{string(data)}}, nil
}

// MustPacket is NewPacket for payload types that always marshal.
func MustPacket(command string, payload any) Packet {
	p, err := NewPacket(command, payload)
	if err != nil {
		panic(err)
	}
	return p
}

// Encode serialises p to a single line without the trailing newline.
//
// Precondition: p.Command must be non-empty; no payload may contain a newline.
// Postcondition: Returns the wire line, or an error wrapping ErrProtocol.
func Encode(p Packet) (string, error) {
	if p.Command == "" {
		return "", fmt.Errorf("%w: empty command", ErrProtocol)
	}
	for i, payload := range p.Payloads {
		if strings.ContainsAny(payload, "\r\n") {
			return "", fmt.Errorf("%w: payload %d of %s contains a line break", ErrProtocol, i, p.Command)
		}
	}
	if p.Payloads == nil {
		p.Payloads = []string{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: encoding %s: %v", ErrProtocol, p.Command, err)
	}
	return string(data), nil
}

// Decode parses one wire line into a Packet. A trailing carriage return or
// newline is ignored.
//
// Postcondition: Returns the packet, or an error wrapping ErrProtocol.
func Decode(line string) (Packet, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Packet{}, fmt.Errorf("%w: empty frame", ErrProtocol)
	}
	var p Packet
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return Packet{}, fmt.Errorf("%w: malformed frame: %v", ErrProtocol, err)
	}
	if p.Command == "" {
		return Packet{}, fmt.Errorf("%w: frame has no header", ErrProtocol)
	}
	return p, nil
}

// DecodePayload unmarshals payload i of p into dst.
//
// Postcondition: Returns nil on success, or an error wrapping ErrProtocol.
func DecodePayload(p Packet, i int, dst any) error {
	if i < 0 || i >= len(p.Payloads) {
		return fmt.Errorf("%w: %s has no payload %d", ErrProtocol, p.Command, i)
	}
	if err := json.Unmarshal([]byte(p.Payloads[i]), dst); err != nil {
		return fmt.Errorf("%w: %s payload %d: %v", ErrProtocol, p.Command, i, err)
	}
	return nil
}
