package orch

import (
	"github.com/dkeye/voiceindicator/internal/app"
	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/rs/zerolog"
)

// baseline is the state assumed for the sentinel stream id, whatever the record carries.
var baseline = domain.IndicatorPatch{
	Volume:         domain.Some(0.0),
	Muted:          domain.Unmuted,
	SignalStrength: domain.Some(1.0),
}

// VolumeIndicatorAdapter turns identity and metadata frames into attendee keyed
// indicator and presence notifications, emitted only on change.
//
// It has no locking: each call must complete before the next one starts.
type VolumeIndicatorAdapter struct {
	logger   zerolog.Logger
	notifier core.Notifier
	registry *app.Registry
	store    *app.StateStore

	minDb float64
	maxDb float64
}

var _ core.FrameProcessor = (*VolumeIndicatorAdapter)(nil)

func NewVolumeIndicatorAdapter(logger zerolog.Logger, notifier core.Notifier, minVolumeDecibels, maxVolumeDecibels float64) *VolumeIndicatorAdapter {
	return &VolumeIndicatorAdapter{
		logger:   logger.With().Str("module", "orch.adapter").Logger(),
		notifier: notifier,
		registry: app.NewRegistry(notifier),
		store:    app.NewStateStore(),
		minDb:    minVolumeDecibels,
		maxDb:    maxVolumeDecibels,
	}
}

func (a *VolumeIndicatorAdapter) Registry() *app.Registry { return a.registry }

func (a *VolumeIndicatorAdapter) ProcessIdentityFrame(frame domain.IdentityFrame) {
	for _, rec := range frame.Streams {
		if dropped, _ := rec.Dropped.Get(); dropped {
			if !a.registry.Remove(rec.StreamID, true) {
				a.logger.Debug().Uint32("stream", uint32(rec.StreamID)).Msg("drop for unmapped stream")
			}
			continue
		}

		id, ok := a.registry.Apply(rec)
		if !ok {
			continue
		}
		muted, ok := rec.Muted.Get()
		if !ok {
			continue
		}
		a.apply(id, domain.IndicatorPatch{Muted: domain.MuteStateOf(muted)})
	}
}

func (a *VolumeIndicatorAdapter) ProcessMetadataFrame(frame domain.MetadataFrame) {
	for _, rec := range frame.AttendeeStates {
		if rec.StreamID == domain.SentinelStreamID {
			id, ok := a.registry.Sole()
			if !ok {
				a.logger.Debug().Int("mappings", a.registry.Len()).Msg("sentinel stream has no single target, skipped")
				continue
			}
			a.apply(id, baseline)
			continue
		}

		id, ok := a.registry.Resolve(rec.StreamID)
		if !ok {
			a.logger.Debug().Uint32("stream", uint32(rec.StreamID)).Msg("metadata for unmapped stream skipped")
			continue
		}
		var patch domain.IndicatorPatch
		if v, ok := rec.Volume.Get(); ok {
			patch.Volume = domain.Some(app.NormalizeVolume(v, a.minDb, a.maxDb))
		}
		if s, ok := rec.SignalStrength.Get(); ok {
			patch.SignalStrength = domain.Some(app.NormalizeSignalStrength(s))
		}
		a.apply(id, patch)
	}
}

func (a *VolumeIndicatorAdapter) apply(id domain.AttendeeID, patch domain.IndicatorPatch) {
	if ext, ok := a.registry.ExternalUserID(id); ok {
		patch.ExternalUserID = domain.Some(ext)
	}
	changed, st := a.store.DiffAndUpdate(id, patch)
	if !changed.Has(app.IndicatorFields) {
		return
	}

	u := core.IndicatorUpdate{AttendeeID: id}
	if changed.Has(app.FieldVolume) {
		v, _ := st.Volume.Get()
		u.Volume = &v
	}
	if changed.Has(app.FieldMuted) {
		m, _ := st.Muted.Bool()
		u.Muted = &m
	}
	if changed.Has(app.FieldSignalStrength) {
		s, _ := st.SignalStrength.Get()
		u.SignalStrength = &s
	}
	if ext, ok := st.ExternalUserID.Get(); ok {
		u.ExternalUserID = &ext
	}
	a.notifier.NotifyIndicator(u)
}
