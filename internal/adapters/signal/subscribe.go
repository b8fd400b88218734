package signal

import (
	"github.com/dkeye/voiceindicator/internal/app/realtime"
	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

type subscribePayload struct {
	Type      string              `json:"type"`
	Attendees []domain.AttendeeID `json:"attendees"`
}

// handleSubscribe registers indicator subscriptions; an empty list means every attendee.
func (ctl *SignalWSController) handleSubscribe(cl *client, data []byte) {
	var p subscribePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad subscribe payload")
		ctl.sendError(cl.conn, "bad_payload")
		return
	}
	ids := p.Attendees
	if len(ids) == 0 {
		ids = []domain.AttendeeID{realtime.AllAttendees}
	}
	rt := cl.conf.Realtime()
	for _, id := range ids {
		if _, ok := cl.indicatorTokens[id]; ok {
			continue
		}
		cl.indicatorTokens[id] = rt.SubscribeToVolumeIndicator(id, func(u core.IndicatorUpdate) {
			ctl.push(cl, indicatorEvent{Type: "indicator", IndicatorUpdate: u})
		})
	}
	log.Info().Str("module", "signal").Str("attendee", string(cl.attendee)).Int("subscriptions", len(cl.indicatorTokens)).Msg("subscribe")
}

func (ctl *SignalWSController) handleUnsubscribe(cl *client, data []byte) {
	var p subscribePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad unsubscribe payload")
		ctl.sendError(cl.conn, "bad_payload")
		return
	}
	ids := p.Attendees
	if len(ids) == 0 {
		ids = make([]domain.AttendeeID, 0, len(cl.indicatorTokens))
		for id := range cl.indicatorTokens {
			ids = append(ids, id)
		}
	}
	rt := cl.conf.Realtime()
	for _, id := range ids {
		if token, ok := cl.indicatorTokens[id]; ok {
			rt.UnsubscribeFromVolumeIndicator(id, token)
			delete(cl.indicatorTokens, id)
		}
	}
}

func (ctl *SignalWSController) handleWhoAmI(cl *client) {
	ctl.sendJSON(cl.conn, whoAmIEvent{
		Type:       "whoami",
		AttendeeID: cl.attendee,
		Name:       cl.external,
		Conference: cl.conf.ID(),
		Attendees:  cl.conf.Realtime().Present(),
	})
}
