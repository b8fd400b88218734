package domain

// IdentityRecord names the owner and mute state of one audio stream.
type IdentityRecord struct {
	StreamID       StreamID        `json:"audio_stream_id"`
	AttendeeID     Opt[AttendeeID] `json:"attendee_id,omitzero"`
	ExternalUserID Opt[string]     `json:"external_user_id,omitzero"`
	Muted          Opt[bool]       `json:"muted,omitzero"`
	Dropped        Opt[bool]       `json:"dropped,omitzero"`
}

type IdentityFrame struct {
	Streams []IdentityRecord `json:"streams"`
}

// MetadataRecord carries measured levels for one stream.
// Volume is the magnitude of a negative decibel reading; SignalStrength is 0 (none), 1 (fair) or 2 (good).
type MetadataRecord struct {
	StreamID       StreamID     `json:"audio_stream_id"`
	Volume         Opt[float64] `json:"volume,omitzero"`
	SignalStrength Opt[float64] `json:"signal_strength,omitzero"`
}

type MetadataFrame struct {
	AttendeeStates []MetadataRecord `json:"attendee_states"`
}
