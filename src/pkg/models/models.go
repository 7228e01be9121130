package models

import "fmt"

// Color identifies one of the two parallel hosting environments
type Color string

const (
	COLOR_BLUE  Color = "blue"
	COLOR_GREEN Color = "green"
)

// ParseColor converts a raw registry value into a Color
func ParseColor(raw string) (Color, error) {
	switch Color(raw) {
	case COLOR_BLUE, COLOR_GREEN:
		return Color(raw), nil
	}
	return "", fmt.Errorf("invalid color %q (expected blue or green)", raw)
}

// Other returns the complement color
func (c Color) Other() Color {
	if c == COLOR_BLUE {
		return COLOR_GREEN
	}
	return COLOR_BLUE
}

func (c Color) Valid() bool {
	return c == COLOR_BLUE || c == COLOR_GREEN
}

func (c Color) String() string {
	return string(c)
}

// Environment is one color of a group with its storage target
type Environment struct {
	Group         string `json:"group"`
	Color         Color  `json:"color"`
	StorageTarget string `json:"storageTarget"`
	URL           string `json:"url"`
	IsActive      bool   `json:"isActive"`
}

// State is a step of the deployment state machine
type State string

const (
	STATE_IDLE             State = "Idle"
	STATE_CONFIRMED        State = "Confirmed"
	STATE_TESTED           State = "Tested"
	STATE_BUILT            State = "Built"
	STATE_DEPLOYED         State = "Deployed"
	STATE_VERIFIED         State = "Verified"
	STATE_SWITCH_CONFIRMED State = "SwitchConfirmed"
	STATE_SWITCHED         State = "Switched"
	STATE_ACTIVE_VERIFIED  State = "ActiveVerified"
	STATE_RECORDED         State = "Recorded"
	STATE_ABORTED          State = "Aborted"
	STATE_FAILED           State = "Failed"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == STATE_RECORDED || s == STATE_ABORTED || s == STATE_FAILED
}
