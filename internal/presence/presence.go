// ABOUTME: Presence domain types: status modes, rotation entries and rotation state
// ABOUTME: Modes are platform-neutral; the gateway adapter maps them onto its protocol

package presence

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is the availability shown next to the bot account.
type Mode string

const (
	ModeOnline       Mode = "online"
	ModeIdle         Mode = "idle"
	ModeDoNotDisturb Mode = "dnd"
	ModeInvisible    Mode = "invisible"
)

// ValidModes lists every supported mode.
var ValidModes = []Mode{ModeOnline, ModeIdle, ModeDoNotDisturb, ModeInvisible}

// ErrEmptyRotation is returned when a rotation has no messages or no modes.
var ErrEmptyRotation = errors.New("rotation needs at least one message and one mode")

// ParseMode converts a config string into a Mode. It accepts the long
// spellings used by other chat platforms as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online":
		return ModeOnline, nil
	case "idle", "away", "unavailable":
		return ModeIdle, nil
	case "dnd", "do_not_disturb", "donotdisturb", "busy":
		return ModeDoNotDisturb, nil
	case "invisible", "offline":
		return ModeInvisible, nil
	default:
		return "", fmt.Errorf("unknown presence mode %q", s)
	}
}

// Entry is one presence update: the status text and the mode it is shown with.
type Entry struct {
	Message string
	Mode    Mode
}

func (e Entry) String() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Mode)
}

// ResetEntry is pushed when a rotation update fails, so a half-applied
// status does not linger on the account.
var ResetEntry = Entry{Message: "Status Reset", Mode: ModeOnline}

// State is the rotation cursor. Messages and modes cycle independently,
// so when the two lists differ in length the pairing shifts each lap.
type State struct {
	MessageIndex int
	ModeIndex    int
}

// Normalize reduces the indices into range for lists of the given
// lengths. Used when a saved cursor meets an edited config.
func (s State) Normalize(messages, modes int) State {
	if messages <= 0 || modes <= 0 {
		return State{}
	}
	return State{
		MessageIndex: mod(s.MessageIndex, messages),
		ModeIndex:    mod(s.ModeIndex, modes),
	}
}

func (s State) next(messages, modes int) State {
	return State{
		MessageIndex: (s.MessageIndex + 1) % messages,
		ModeIndex:    (s.ModeIndex + 1) % modes,
	}
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}

// Outcome classifies a presence write for the history journal.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeFailed      Outcome = "failed"
	OutcomeReset       Outcome = "reset"
	OutcomeResetFailed Outcome = "reset_failed"
)
