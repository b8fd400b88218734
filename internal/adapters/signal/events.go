package signal

import (
	"github.com/dkeye/voiceindicator/internal/app/realtime"
	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/dkeye/voiceindicator/internal/domain"
)

type indicatorEvent struct {
	Type string `json:"type"`
	core.IndicatorUpdate
}

type presenceEvent struct {
	Type string `json:"type"`
	core.PresenceUpdate
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type whoAmIEvent struct {
	Type       string              `json:"type"`
	AttendeeID domain.AttendeeID   `json:"attendee_id"`
	Name       string              `json:"name,omitempty"`
	Conference domain.ConferenceID `json:"conference"`
	Attendees  []realtime.Attendee `json:"attendees"`
}
