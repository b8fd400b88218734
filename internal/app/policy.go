package app

import "github.com/dkeye/voiceindicator/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	KickSubscriber
)

// Policy decides what happens when a subscriber cannot keep up with its events.
type Policy interface {
	OnBackPressure(conf domain.ConferenceID, subscriber domain.AttendeeID, dropped int) BackpressureAction
}

// SimplePolicy drops events for a while and kicks the subscriber once it has missed MaxDropped.
// A kicked client reconnects and starts from a fresh presence snapshot.
type SimplePolicy struct {
	MaxDropped int
}

func (p SimplePolicy) OnBackPressure(_ domain.ConferenceID, _ domain.AttendeeID, dropped int) BackpressureAction {
	if dropped >= p.MaxDropped {
		return KickSubscriber
	}
	return DropEvent
}
