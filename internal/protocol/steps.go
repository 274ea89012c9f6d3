package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// VisitStep is the step mode carried by a VisitPacket.
type VisitStep int

// Visit step modes in wire order.
const (
	VisitRequest VisitStep = iota
	VisitAccept
	VisitReject
	VisitUnavailable
	VisitAction
	VisitStop
)

var visitStepNames = [...]string{"Request", "Accept", "Reject", "Unavailable", "Action", "Stop"}

func (s VisitStep) String() string {
	if s < 0 || int(s) >= len(visitStepNames) {
		return fmt.Sprintf("VisitStep(%d)", int(s))
	}
	return visitStepNames[s]
}

// ParseVisitStep decodes the wire form ("0".."5").
func ParseVisitStep(raw string) (VisitStep, error) {
	n, err := parseStep(raw, len(visitStepNames), "visit")
	return VisitStep(n), err
}

func (s VisitStep) MarshalJSON() ([]byte, error) { return marshalStep(int(s)) }

func (s *VisitStep) UnmarshalJSON(data []byte) error {
	raw, err := unquoteStep(data)
	if err != nil {
		return err
	}
	v, err := ParseVisitStep(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// RaidStep is the step mode carried by a RaidPacket.
type RaidStep int

// Raid step modes in wire order.
const (
	RaidRequest RaidStep = iota
	RaidDeny
)

var raidStepNames = [...]string{"Request", "Deny"}

func (s RaidStep) String() string {
	if s < 0 || int(s) >= len(raidStepNames) {
		return fmt.Sprintf("RaidStep(%d)", int(s))
	}
	return raidStepNames[s]
}

// ParseRaidStep decodes the wire form ("0" or "1").
func ParseRaidStep(raw string) (RaidStep, error) {
	n, err := parseStep(raw, len(raidStepNames), "raid")
	return RaidStep(n), err
}

func (s RaidStep) MarshalJSON() ([]byte, error) { return marshalStep(int(s)) }

func (s *RaidStep) UnmarshalJSON(data []byte) error {
	raw, err := unquoteStep(data)
	if err != nil {
		return err
	}
	v, err := ParseRaidStep(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// LoginResult is the rejection reason carried by a LoginResponsePacket.
type LoginResult int

// Login rejection reasons in wire order.
const (
	LoginInvalid LoginResult = iota
	LoginBanned
	LoginWrongMods
)

var loginResultNames = [...]string{"InvalidLogin", "BannedLogin", "WrongMods"}

func (r LoginResult) String() string {
	if r < 0 || int(r) >= len(loginResultNames) {
		return fmt.Sprintf("LoginResult(%d)", int(r))
	}
	return loginResultNames[r]
}

// ParseLoginResult decodes the wire form ("0".."2").
func ParseLoginResult(raw string) (LoginResult, error) {
	n, err := parseStep(raw, len(loginResultNames), "login result")
	return LoginResult(n), err
}

func (r LoginResult) MarshalJSON() ([]byte, error) { return marshalStep(int(r)) }

func (r *LoginResult) UnmarshalJSON(data []byte) error {
	raw, err := unquoteStep(data)
	if err != nil {
		return err
	}
	v, err := ParseLoginResult(raw)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func parseStep(raw string, count int, kind string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s step %q is not a number", ErrProtocol, kind, raw)
	}
	if n < 0 || n >= count {
		return 0, fmt.Errorf("%w: %s step %d out of range", ErrProtocol, kind, n)
	}
	return n, nil
}

// Steps travel as decimal strings, e.g. "3".
func marshalStep(n int) ([]byte, error) {
	return json.Marshal(strconv.Itoa(n))
}

func unquoteStep(data []byte) (string, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("%w: step mode must be a string: %v", ErrProtocol, err)
	}
	return raw, nil
}
