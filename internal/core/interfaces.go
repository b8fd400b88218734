package core

import "github.com/dkeye/voiceindicator/internal/domain"

// IndicatorUpdate reports the fields of one attendee that changed.
// A nil field was not touched by the frame that produced the update.
type IndicatorUpdate struct {
	AttendeeID     domain.AttendeeID `json:"attendee_id"`
	Volume         *float64          `json:"volume"`
	Muted          *bool             `json:"muted"`
	SignalStrength *float64          `json:"signal_strength"`
	ExternalUserID *string           `json:"external_user_id"`
}

// PresenceUpdate is fired once per absent/present transition.
type PresenceUpdate struct {
	AttendeeID     domain.AttendeeID `json:"attendee_id"`
	Present        bool              `json:"present"`
	ExternalUserID string            `json:"external_user_id"`
	Dropped        bool              `json:"dropped,omitempty"`
}

type IndicatorNotifier interface {
	NotifyIndicator(IndicatorUpdate)
}

type PresenceNotifier interface {
	NotifyPresence(PresenceUpdate)
}

// Notifier is the full outbound contract of the volume indicator core.
// Calls are synchronous and happen in input record order.
type Notifier interface {
	IndicatorNotifier
	PresenceNotifier
}

// FrameProcessor is the inbound contract: decoded frames in, notifications out.
type FrameProcessor interface {
	ProcessIdentityFrame(domain.IdentityFrame)
	ProcessMetadataFrame(domain.MetadataFrame)
}
