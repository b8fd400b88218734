package app

import "github.com/dkeye/voiceindicator/internal/domain"

// Field is a bit set of indicator state fields.
type Field uint8

const (
	FieldVolume Field = 1 << iota
	FieldMuted
	FieldSignalStrength
	FieldExternalUserID
)

// IndicatorFields are the fields subscribers get notified about.
const IndicatorFields = FieldVolume | FieldMuted | FieldSignalStrength

func (f Field) Has(x Field) bool { return f&x != 0 }

// StateStore keeps the last delivered indicator state per attendee.
// It never notifies; the caller decides what to do with the diff.
type StateStore struct {
	states map[domain.AttendeeID]*domain.AttendeeIndicatorState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[domain.AttendeeID]*domain.AttendeeIndicatorState)}
}

// DiffAndUpdate applies the present fields of p and returns those whose value changed,
// together with the resulting state.
func (s *StateStore) DiffAndUpdate(id domain.AttendeeID, p domain.IndicatorPatch) (Field, domain.AttendeeIndicatorState) {
	st, ok := s.states[id]
	if !ok {
		st = &domain.AttendeeIndicatorState{AttendeeID: id}
		s.states[id] = st
	}

	var changed Field
	if v, ok := p.Volume.Get(); ok && st.Volume != domain.Some(v) {
		st.Volume = domain.Some(v)
		changed |= FieldVolume
	}
	if p.Muted != domain.MuteUnset && st.Muted != p.Muted {
		st.Muted = p.Muted
		changed |= FieldMuted
	}
	if v, ok := p.SignalStrength.Get(); ok && st.SignalStrength != domain.Some(v) {
		st.SignalStrength = domain.Some(v)
		changed |= FieldSignalStrength
	}
	if v, ok := p.ExternalUserID.Get(); ok && st.ExternalUserID != domain.Some(v) {
		st.ExternalUserID = domain.Some(v)
		changed |= FieldExternalUserID
	}
	return changed, *st
}
