package rtc

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// silentLevel is the RFC 6464 level for digital silence (-127 dBov).
const silentLevel uint8 = 127

// RTPReader is the part of *webrtc.TrackRemote the tap needs.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// FrameSink receives the frames a tap derives from media.
type FrameSink interface {
	PublishIdentity(ctx context.Context, f domain.IdentityFrame) error
	SubmitMetadata(f domain.MetadataFrame) error
}

// LevelTap turns the audio level header extension of one inbound track into
// identity and metadata frames. The stream id is the track SSRC.
type LevelTap struct {
	Src       RTPReader
	StreamID  domain.StreamID
	ExtID     uint8
	HasLevels bool
	Attendee  domain.AttendeeID
	External  string
	Interval  time.Duration
	Sink      FrameSink
}

// Run announces the stream, reports the loudest level seen every Interval and
// drops the stream once the track ends.
func (t *LevelTap) Run(ctx context.Context, logger *zerolog.Logger) {
	if t.StreamID == domain.SentinelStreamID {
		// ssrc 0 would be read as the sentinel stream
		logger.Warn().Msg("level tap skipped for ssrc 0")
		return
	}
	rec := domain.IdentityRecord{
		StreamID:   t.StreamID,
		AttendeeID: domain.Some(t.Attendee),
	}
	if t.External != "" {
		rec.ExternalUserID = domain.Some(t.External)
	}
	if err := t.Sink.PublishIdentity(ctx, domain.IdentityFrame{Streams: []domain.IdentityRecord{rec}}); err != nil {
		logger.Error().Err(err).Msg("level tap announce failed")
		return
	}
	defer t.drop(logger)

	var (
		loudest = silentLevel
		seen    bool
		last    = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("level tap ctx done")
			return
		default:
		}
		pkt, _, err := t.Src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error().Err(err).Msg("level tap read RTP error, stopping")
			}
			return
		}
		if !t.HasLevels {
			continue
		}
		if level, ok := t.level(pkt); ok {
			if !seen || level < loudest {
				loudest = level
			}
			seen = true
		}
		if seen && time.Since(last) >= t.Interval {
			t.report(loudest, logger)
			loudest, seen, last = silentLevel, false, time.Now()
		}
	}
}

func (t *LevelTap) level(pkt *rtp.Packet) (uint8, bool) {
	raw := pkt.GetExtension(t.ExtID)
	if raw == nil {
		return 0, false
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return 0, false
	}
	return ext.Level, true
}

func (t *LevelTap) report(level uint8, logger *zerolog.Logger) {
	frame := domain.MetadataFrame{AttendeeStates: []domain.MetadataRecord{{
		StreamID: t.StreamID,
		Volume:   domain.Some(float64(level)),
	}}}
	if err := t.Sink.SubmitMetadata(frame); err != nil {
		logger.Debug().Err(err).Msg("level report rejected")
	}
}

func (t *LevelTap) drop(logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame := domain.IdentityFrame{Streams: []domain.IdentityRecord{{
		StreamID: t.StreamID,
		Dropped:  domain.Some(true),
	}}}
	if err := t.Sink.PublishIdentity(ctx, frame); err != nil {
		logger.Error().Err(err).Msg("level tap drop failed")
	}
}
