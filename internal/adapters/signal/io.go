package signal

import (
	"context"
	"time"

	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.Opts.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cl *client) {
	defer func() {
		log.Info().Str("module", "signal").Str("attendee", string(cl.attendee)).Msg("readPump closing")
		cancel()
		cl.conn.Close()
		ctl.cleanup(cl)
	}()

	pongWait := ctl.Opts.PingPeriod * 10 / 9
	_ = cl.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.conn.SetPongHandler(func(string) error {
		return cl.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("attendee", string(cl.attendee)).Msg("readPump ctx done")
			return
		default:
			_, data, err := cl.conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Str("attendee", string(cl.attendee)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, cl, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, cl *client, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(cl.conn, "bad_payload")
		return
	}

	switch env.Type {
	case "stream_info":
		ctl.handleStreamInfo(cl, data)
	case "audio_metadata":
		ctl.handleAudioMetadata(cl, data)
	case "subscribe":
		ctl.handleSubscribe(cl, data)
	case "unsubscribe":
		ctl.handleUnsubscribe(cl, data)
	case "ping":
		ctl.handlePing(cl.conn)
	case "whoami":
		ctl.handleWhoAmI(cl)
	case "offer":
		ctl.handleOffer(ctx, cl, data)
	case "candidate":
		ctl.handleCandidate(cl, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(cl.conn, "unknown_type")
	}
}

func (ctl *SignalWSController) trySendJSON(c core.SignalConnection, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return nil
	}
	return c.TrySend(b)
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	_ = ctl.trySendJSON(c, v)
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, reason string) {
	ctl.sendJSON(c, errorEvent{Type: "error", Error: reason})
}
