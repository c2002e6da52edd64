package console

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a voice session.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Recording
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Recording:
		return "recording"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Live reports whether the remote connection is established.
func (s State) Live() bool { return s == Connected || s == Recording }

// TurnMode selects how turn boundaries are decided. Only one mode is active
// at a time.
type TurnMode int

const (
	// PushToTalk: the user starts and stops recording; stopping requests a response.
	PushToTalk TurnMode = iota
	// ServerVAD: capture runs continuously and the server detects turns.
	ServerVAD
)

func (m TurnMode) String() string {
	switch m {
	case PushToTalk:
		return "push_to_talk"
	case ServerVAD:
		return "server_vad"
	default:
		return fmt.Sprintf("TurnMode(%d)", int(m))
	}
}

// ParseTurnMode accepts "ptt", "push_to_talk", "vad" and "server_vad".
func ParseTurnMode(s string) (TurnMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ptt", "push_to_talk", "manual", "none":
		return PushToTalk, nil
	case "vad", "server_vad":
		return ServerVAD, nil
	}
	return PushToTalk, fmt.Errorf("console: unknown turn mode %q", s)
}
