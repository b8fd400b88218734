package signal

import (
	"errors"

	"github.com/dkeye/voiceindicator/internal/app/conference"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/dkeye/voiceindicator/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// ValidateIdentityFrame checks identifier lengths. An explicitly empty attendee id is
// allowed: it carries no identity and refers to the existing mapping.
func ValidateIdentityFrame(f domain.IdentityFrame) error {
	for _, rec := range f.Streams {
		if id := rec.AttendeeID.Or(""); id != "" {
			if _, err := domain.NewAttendeeID(string(id)); err != nil {
				return err
			}
		}
		if ext, ok := rec.ExternalUserID.Get(); ok {
			if err := domain.ValidateExternalUserID(ext); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ctl *SignalWSController) handleStreamInfo(cl *client, data []byte) {
	if !ctl.allowFrame(cl) {
		return
	}
	var f domain.IdentityFrame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad stream_info payload")
		ctl.rejectFrame(cl, metrics.ReasonBadPayload)
		return
	}
	if err := ValidateIdentityFrame(f); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("attendee", string(cl.attendee)).Msg("invalid stream_info")
		ctl.rejectFrame(cl, metrics.ReasonBadPayload)
		return
	}
	err := cl.conf.SubmitIdentity(f)
	if err == nil {
		cl.track(f)
	}
	ctl.submitResult(cl, err)
}

func (ctl *SignalWSController) handleAudioMetadata(cl *client, data []byte) {
	if !ctl.allowFrame(cl) {
		return
	}
	var f domain.MetadataFrame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad audio_metadata payload")
		ctl.rejectFrame(cl, metrics.ReasonBadPayload)
		return
	}
	ctl.submitResult(cl, cl.conf.SubmitMetadata(f))
}

func (ctl *SignalWSController) allowFrame(cl *client) bool {
	if cl.limiter.Allow() {
		return true
	}
	log.Warn().Str("module", "signal").Str("attendee", string(cl.attendee)).Msg("frame rate limited")
	ctl.rejectFrame(cl, metrics.ReasonRateLimit)
	return false
}

func (ctl *SignalWSController) submitResult(cl *client, err error) {
	switch {
	case err == nil:
	case errors.Is(err, conference.ErrBackpressure):
		ctl.sendError(cl.conn, "busy")
	case errors.Is(err, conference.ErrClosed):
		ctl.sendError(cl.conn, "conference_closed")
	default:
		ctl.sendError(cl.conn, "internal")
	}
}

func (ctl *SignalWSController) rejectFrame(cl *client, reason string) {
	if ctl.Metrics != nil {
		ctl.Metrics.FramesRejected.WithLabelValues(reason).Inc()
	}
	ctl.sendError(cl.conn, reason)
}
