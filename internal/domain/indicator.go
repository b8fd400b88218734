package domain

// MuteState keeps "never observed" apart from "observed unmuted".
type MuteState int

const (
	MuteUnset MuteState = iota
	Muted
	Unmuted
)

func MuteStateOf(muted bool) MuteState {
	if muted {
		return Muted
	}
	return Unmuted
}

// Bool reports the mute flag; ok is false while the state was never observed.
func (m MuteState) Bool() (muted bool, ok bool) {
	switch m {
	case Muted:
		return true, true
	case Unmuted:
		return false, true
	default:
		return false, false
	}
}

func (m MuteState) String() string {
	switch m {
	case Muted:
		return "muted"
	case Unmuted:
		return "unmuted"
	default:
		return "unset"
	}
}

// AttendeeIndicatorState is the last state delivered to subscribers for one attendee.
type AttendeeIndicatorState struct {
	AttendeeID     AttendeeID
	Volume         Opt[float64]
	Muted          MuteState
	SignalStrength Opt[float64]
	ExternalUserID Opt[string]
}

// IndicatorPatch is a partial state: absent fields (and MuteUnset) carry no new information.
type IndicatorPatch struct {
	Volume         Opt[float64]
	Muted          MuteState
	SignalStrength Opt[float64]
	ExternalUserID Opt[string]
}
