package signal

import (
	"context"

	"github.com/dkeye/voiceindicator/internal/adapters/rtc"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) sendCandidate(c *WsSignalConn, ci webrtc.ICECandidateInit) {
	resp := struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid,omitempty"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	}{
		Type:      "candidate",
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *ci.SDPMLineIndex
	}
	ctl.sendJSON(c, resp)
}

// handleOffer opens a receive-only peer connection whose audio tracks feed the conference.
func (ctl *SignalWSController) handleOffer(
	ctx context.Context,
	cl *client,
	data []byte,
) {
	type offerPayload struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	var p offerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(cl.conn, "bad_payload")
		return
	}
	if ctl.MediaAPI == nil {
		ctl.sendError(cl.conn, "media_disabled")
		return
	}
	if cl.media != nil {
		cl.media.Close()
		cl.media = nil
	}

	wc, err := rtc.NewWebRTCConnection(ctl.MediaAPI, ctl.Opts.WebRTC, cl.attendee)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		ctl.sendError(cl.conn, "internal")
		return
	}

	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(cl.conn, ci)
	})
	wc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		ctl.startLevelTap(trackCtx, cl, track, receiver)
	})

	if err = wc.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		ctl.failOffer(cl, wc, "internal")
		return
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		ctl.failOffer(cl, wc, "bad_offer")
		return
	}
	cl.media = wc

	ctl.sendJSON(cl.conn, map[string]string{
		"type": "answer",
		"sdp":  answer.SDP,
	})
}

// failOffer discards a half-built peer connection and reports reason to the client.
func (ctl *SignalWSController) failOffer(cl *client, wc *rtc.WebRTCConnection, reason string) {
	if wc != nil {
		wc.Close()
	}
	ctl.sendError(cl.conn, reason)
}

func (ctl *SignalWSController) startLevelTap(ctx context.Context, cl *client, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	logger := log.With().
		Str("module", "leveltap").
		Str("attendee", string(cl.attendee)).
		Uint32("ssrc", uint32(track.SSRC())).
		Logger()

	if track.Kind() != webrtc.RTPCodecTypeAudio {
		logger.Info().Str("kind", track.Kind().String()).Msg("ignoring non-audio track")
		return
	}

	extID, ok := rtc.AudioLevelExtensionID(receiver.GetParameters())
	if !ok {
		logger.Warn().Msg("audio level extension not negotiated, presence only")
	}

	tap := &rtc.LevelTap{
		Src:       track,
		StreamID:  domain.StreamID(track.SSRC()),
		ExtID:     extID,
		HasLevels: ok,
		Attendee:  cl.attendee,
		External:  cl.external,
		Interval:  ctl.Opts.LevelInterval,
		Sink:      clientSink{cl: cl},
	}
	if ctl.Metrics != nil {
		ctl.Metrics.MediaTracks.Inc()
		defer ctl.Metrics.MediaTracks.Dec()
	}
	logger.Info().Msg("starting level tap")
	tap.Run(ctx, &logger)
}

func (ctl *SignalWSController) handleCandidate(
	cl *client,
	data []byte,
) {
	type candidatePayload struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate: p.Candidate,
	}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	if cl.media == nil {
		log.Warn().Str("module", "signal").Str("attendee", string(cl.attendee)).Msg("candidate: no media connection for")
		return
	}
	if err := cl.media.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}
