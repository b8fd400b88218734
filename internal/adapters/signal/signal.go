package signal

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voiceindicator/internal/adapters/rtc"
	"github.com/dkeye/voiceindicator/internal/app"
	"github.com/dkeye/voiceindicator/internal/app/conference"
	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/dkeye/voiceindicator/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit         int64
	PingPeriod        time.Duration
	SubscriberQueue   int
	FrameRateLimit    int
	FrameRateInterval time.Duration
	LevelInterval     time.Duration
	WebRTC            webrtc.Configuration
}

type SignalWSController struct {
	Conferences *conference.Manager
	Policy      app.Policy
	Metrics     *metrics.Metrics
	MediaAPI    *webrtc.API
	Opts        Options
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is the per-connection state. Handlers run on the read pump;
// event callbacks run on the conference loop.
type client struct {
	attendee domain.AttendeeID
	external string
	conf     *conference.Conference
	conn     *WsSignalConn
	limiter  *FrameRateLimiter

	presenceToken string
	// attendee -> subscription token; only touched by the read pump
	indicatorTokens map[domain.AttendeeID]string
	media           *rtc.WebRTCConnection

	dropped atomic.Int64

	mu sync.Mutex
	// streams this connection mapped, released on disconnect
	owned map[domain.StreamID]domain.AttendeeID
}

// track records the mappings f establishes or drops. Level taps call it from
// their own goroutines.
func (cl *client) track(f domain.IdentityFrame) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, rec := range f.Streams {
		if rec.StreamID == domain.SentinelStreamID {
			continue
		}
		if dropped, _ := rec.Dropped.Get(); dropped {
			delete(cl.owned, rec.StreamID)
			continue
		}
		if id := rec.AttendeeID.Or(""); id != "" {
			cl.owned[rec.StreamID] = id
		}
	}
}

func (cl *client) ownedStreams() map[domain.StreamID]domain.AttendeeID {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return maps.Clone(cl.owned)
}

// clientSink feeds level tap frames to the conference and remembers the
// streams they announce.
type clientSink struct {
	cl *client
}

func (s clientSink) PublishIdentity(ctx context.Context, f domain.IdentityFrame) error {
	if err := s.cl.conf.PublishIdentity(ctx, f); err != nil {
		return err
	}
	s.cl.track(f)
	return nil
}

func (s clientSink) SubmitMetadata(f domain.MetadataFrame) error {
	return s.cl.conf.SubmitMetadata(f)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and binds the connection to the conference
// named by the "conference" query parameter.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	confID, err := domain.NewConferenceID(c.Query("conference"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	attendee, err := attendeeOf(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	external := c.Query("name")
	if err := domain.ValidateExternalUserID(external); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("module", "signal").Str("attendee", string(attendee)).Str("conference", string(confID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Opts.ReadLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Opts.SubscriberQueue),
	}
	cl := &client{
		attendee:        attendee,
		external:        external,
		conf:            ctl.Conferences.GetOrCreate(confID),
		conn:            conn,
		limiter:         NewFrameRateLimiter(ctl.Opts.FrameRateLimit, ctl.Opts.FrameRateInterval),
		indicatorTokens: make(map[domain.AttendeeID]string),
		owned:           make(map[domain.StreamID]domain.AttendeeID),
	}
	if ctl.Metrics != nil {
		ctl.Metrics.ActiveConnections.Inc()
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.bindPresence(cl)
	ctl.handleWhoAmI(cl)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cl)
}

// attendeeOf prefers an explicit attendee id and falls back to the client token cookie.
func attendeeOf(c *gin.Context) (domain.AttendeeID, error) {
	if raw := c.Query("attendee"); raw != "" {
		return domain.NewAttendeeID(raw)
	}
	if token := c.GetString("client_token"); token != "" {
		return domain.NewAttendeeID(token)
	}
	return domain.GenerateAttendeeID(), nil
}

func (ctl *SignalWSController) bindPresence(cl *client) {
	cl.presenceToken = cl.conf.Realtime().SubscribeToAttendeeIDPresence(func(u core.PresenceUpdate) {
		ctl.push(cl, presenceEvent{Type: "presence", PresenceUpdate: u})
	})
}

// push delivers one event, consulting the policy when the client is too slow.
func (ctl *SignalWSController) push(cl *client, v any) {
	err := ctl.trySendJSON(cl.conn, v)
	if err == nil {
		cl.dropped.Store(0)
		return
	}
	if errors.Is(err, ErrConnClosed) {
		return
	}
	if ctl.Metrics != nil {
		ctl.Metrics.EventsDropped.Inc()
	}
	dropped := int(cl.dropped.Add(1))
	if ctl.Policy == nil {
		return
	}
	switch ctl.Policy.OnBackPressure(cl.conf.ID(), cl.attendee, dropped) {
	case app.KickSubscriber:
		log.Warn().Str("module", "signal").Str("attendee", string(cl.attendee)).Int("dropped", dropped).Msg("kicking slow subscriber")
		cl.conn.Close()
	case app.DropEvent, app.NoAction:
	}
}

func (ctl *SignalWSController) cleanup(cl *client) {
	rt := cl.conf.Realtime()
	rt.UnsubscribeFromAttendeeIDPresence(cl.presenceToken)
	for id, token := range cl.indicatorTokens {
		rt.UnsubscribeFromVolumeIndicator(id, token)
	}
	if cl.media != nil {
		cl.media.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	owned := cl.ownedStreams()
	if err := cl.conf.Release(ctx, owned); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("attendee", string(cl.attendee)).Int("streams", len(owned)).Msg("release on disconnect")
	}
	if ctl.Metrics != nil {
		ctl.Metrics.ActiveConnections.Dec()
	}
}
