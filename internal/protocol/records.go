package protocol

import "encoding/json"

// LoginDetails is the handshake payload of a LoginPacket.
type LoginDetails struct {
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	ClientVersion string   `json:"clientVersion,omitempty"`
	RunningMods   []string `json:"runningMods"`
}

// LoginResponse tells a client why its handshake was refused.
type LoginResponse struct {
	Response LoginResult `json:"tryResponse"`
	Details  []string    `json:"extraDetails,omitempty"`
}

// PlayerRecount announces the live player list to every client.
type PlayerRecount struct {
	CurrentPlayers     string   `json:"currentPlayers"`
	CurrentPlayerNames []string `json:"currentPlayerNames"`
}

// VisitDetails is the payload of a VisitPacket. MapDetails and PawnActions are
// game-domain data forwarded untouched.
type VisitDetails struct {
	StepMode    VisitStep       `json:"visitStepMode"`
	FromTile    string          `json:"fromTile,omitempty"`
	TargetTile  string          `json:"targetTile,omitempty"`
	VisitorName string          `json:"visitorName,omitempty"`
	MapDetails  json.RawMessage `json:"mapDetails,omitempty"`
	PawnActions json.RawMessage `json:"pawnActions,omitempty"`
}

// RaidDetails is the payload of a RaidPacket.
type RaidDetails struct {
	StepMode   RaidStep        `json:"raidStepMode"`
	TargetTile string          `json:"targetTile"`
	MapDetails json.RawMessage `json:"mapDetails,omitempty"`
}
