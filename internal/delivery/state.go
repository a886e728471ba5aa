package delivery

import (
	"fmt"
	"time"
)

// State is the observable progress of a delivery
type State int

const (
	StateIdle State = iota
	StateConverting
	StateConverted
	StateSending
	StatePlaying
	StateError
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateConverting: "converting",
	StateConverted:  "converted",
	StateSending:    "sending",
	StatePlaying:    "playing",
	StateError:      "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the state ends a delivery. Terminal states are
// shown for the display delay and then revert to Idle.
func (s State) Terminal() bool {
	return s == StatePlaying || s == StateError
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *State) UnmarshalText(b []byte) error {
	for state, name := range stateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown delivery state %q", string(b))
}

// Transition is one state change of a delivery
type Transition struct {
	DeliveryID string    `json:"delivery_id,omitempty"`
	State      State     `json:"state"`
	Device     string    `json:"device,omitempty"`
	Bucket     string    `json:"bucket,omitempty"`  // Error only
	Message    string    `json:"message,omitempty"` // user-facing summary, Error only
	At         time.Time `json:"at"`

	Err error `json:"-"`
}
