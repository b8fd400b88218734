// Package conference serializes frame delivery into one volume indicator adapter per conference.
package conference

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dkeye/voiceindicator/internal/app/orch"
	"github.com/dkeye/voiceindicator/internal/app/realtime"
	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/dkeye/voiceindicator/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("conference closed")
)

type job func(*orch.VolumeIndicatorAdapter)

// Conference owns one adapter. All frames go through the inbox and are processed
// by the Run goroutine, one at a time, in submission order.
type Conference struct {
	id      domain.ConferenceID
	rt      *realtime.Controller
	adapter *orch.VolumeIndicatorAdapter
	metrics *metrics.Metrics
	logger  zerolog.Logger

	inbox  chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	idleTimeout time.Duration
	// unix nanos of the last lookup or submission
	lastUse atomic.Int64
	// reap asks the owner to retire an idle conference; nil keeps it forever
	reap func(*Conference) bool
}

// Info is a read-only view for APIs.
type Info struct {
	ID        domain.ConferenceID `json:"id"`
	Attendees int                 `json:"attendee_count"`
}

type Options struct {
	MinVolumeDecibels float64
	MaxVolumeDecibels float64
	QueueSize         int

	// IdleTimeout retires a conference without streams or subscribers; zero disables it.
	IdleTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

func New(parent context.Context, id domain.ConferenceID, opts Options) *Conference {
	ctx, cancel := context.WithCancel(parent)
	logger := opts.Logger.With().Str("conference", string(id)).Logger()
	rt := realtime.New()

	var notifier core.Notifier = rt
	if opts.Metrics != nil {
		notifier = &countingNotifier{next: rt, m: opts.Metrics}
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 1
	}
	c := &Conference{
		id:      id,
		rt:      rt,
		adapter: orch.NewVolumeIndicatorAdapter(logger, notifier, opts.MinVolumeDecibels, opts.MaxVolumeDecibels),
		metrics: opts.Metrics,
		logger:  logger,
		inbox:   make(chan job, size),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),

		idleTimeout: opts.IdleTimeout,
	}
	c.touch()
	return c
}

func (c *Conference) ID() domain.ConferenceID { return c.id }
func (c *Conference) Realtime() *realtime.Controller { return c.rt }

func (c *Conference) Info() Info {
	return Info{ID: c.id, Attendees: c.rt.PresentCount()}
}

// Run processes the inbox until Stop, the parent context ends, or the
// conference is reaped after staying idle.
func (c *Conference) Run() {
	defer close(c.done)
	c.logger.Info().Str("module", "conference").Msg("conference loop started")

	var idleCheck <-chan time.Time
	if c.idleTimeout > 0 {
		t := time.NewTicker(max(c.idleTimeout/2, time.Millisecond))
		defer t.Stop()
		idleCheck = t.C
	}
	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info().Str("module", "conference").Msg("conference loop stopped")
			return
		case j := <-c.inbox:
			j(c.adapter)
		case <-idleCheck:
			if c.idle() && c.reap != nil && c.reap(c) {
				return
			}
		}
	}
}

func (c *Conference) touch() { c.lastUse.Store(time.Now().UnixNano()) }

// IdleFor reports whether the conference has not been looked up or fed for d.
func (c *Conference) IdleFor(d time.Duration) bool {
	return time.Since(time.Unix(0, c.lastUse.Load())) >= d
}

// idle runs on the loop goroutine, the only owner of the registry.
func (c *Conference) idle() bool {
	return c.adapter.Registry().Len() == 0 && c.rt.Subscribers() == 0 && c.IdleFor(c.idleTimeout)
}

func (c *Conference) Stop() {
	c.cancel()
}

// Done is closed once Run has returned.
func (c *Conference) Done() <-chan struct{} { return c.done }

// SubmitIdentity enqueues an identity frame without blocking.
func (c *Conference) SubmitIdentity(f domain.IdentityFrame) error {
	return c.tryEnqueue(metrics.KindIdentity, func(a *orch.VolumeIndicatorAdapter) {
		c.observe(metrics.KindIdentity, func() { a.ProcessIdentityFrame(f) })
	})
}

// SubmitMetadata enqueues a metadata frame without blocking.
func (c *Conference) SubmitMetadata(f domain.MetadataFrame) error {
	return c.tryEnqueue(metrics.KindMetadata, func(a *orch.VolumeIndicatorAdapter) {
		c.observe(metrics.KindMetadata, func() { a.ProcessMetadataFrame(f) })
	})
}

// PublishIdentity enqueues an identity frame, waiting for room in the inbox.
// Media taps use it so that announcements and drops are never lost.
func (c *Conference) PublishIdentity(ctx context.Context, f domain.IdentityFrame) error {
	return c.enqueue(ctx, func(a *orch.VolumeIndicatorAdapter) {
		c.observe(metrics.KindIdentity, func() { a.ProcessIdentityFrame(f) })
	})
}

// Leave removes every stream of the attendee and returns how many were mapped.
func (c *Conference) Leave(ctx context.Context, id domain.AttendeeID) (int, error) {
	var n int
	err := c.do(ctx, func(a *orch.VolumeIndicatorAdapter) {
		n = a.Registry().RemoveAttendee(id, false)
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Info().Str("module", "conference").Str("attendee", string(id)).Int("streams", n).Msg("attendee removed")
	}
	return n, nil
}

// Release removes the given stream mappings, skipping any stream that has since
// been mapped to another attendee. Connections call it on disconnect with the
// streams they announced. It waits for room in the inbox since a lost release
// would keep the attendee present forever.
func (c *Conference) Release(ctx context.Context, owned map[domain.StreamID]domain.AttendeeID) error {
	if len(owned) == 0 {
		return nil
	}
	sids := make([]domain.StreamID, 0, len(owned))
	for sid := range owned {
		sids = append(sids, sid)
	}
	slices.Sort(sids)
	return c.enqueue(ctx, func(a *orch.VolumeIndicatorAdapter) {
		reg := a.Registry()
		for _, sid := range sids {
			if cur, ok := reg.Resolve(sid); ok && cur == owned[sid] {
				reg.Remove(sid, false)
			}
		}
	})
}

// Streams returns the active stream mappings.
func (c *Conference) Streams(ctx context.Context) ([]domain.StreamRecord, error) {
	var out []domain.StreamRecord
	err := c.do(ctx, func(a *orch.VolumeIndicatorAdapter) { out = a.Registry().Snapshot() })
	return out, err
}

// Sync returns once every frame submitted before the call has been processed.
func (c *Conference) Sync(ctx context.Context) error {
	return c.do(ctx, func(*orch.VolumeIndicatorAdapter) {})
}

// do runs fn on the loop and waits for it.
func (c *Conference) do(ctx context.Context, fn job) error {
	finished := make(chan struct{})
	if err := c.enqueue(ctx, func(a *orch.VolumeIndicatorAdapter) {
		fn(a)
		close(finished)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conference) tryEnqueue(kind string, j job) error {
	c.touch()
	if c.ctx.Err() != nil {
		c.reject(metrics.ReasonClosed)
		return ErrClosed
	}
	select {
	case c.inbox <- j:
		return nil
	default:
		c.logger.Warn().Str("module", "conference").Str("kind", kind).Msg("inbox full, frame rejected")
		c.reject(metrics.ReasonBackpressure)
		return ErrBackpressure
	}
}

func (c *Conference) enqueue(ctx context.Context, j job) error {
	c.touch()
	select {
	case c.inbox <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Conference) observe(kind string, fn func()) {
	start := time.Now()
	fn()
	if c.metrics != nil {
		c.metrics.FramesProcessed.WithLabelValues(kind).Inc()
		c.metrics.FrameDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (c *Conference) reject(reason string) {
	if c.metrics != nil {
		c.metrics.FramesRejected.WithLabelValues(reason).Inc()
	}
}

type countingNotifier struct {
	next core.Notifier
	m    *metrics.Metrics
}

func (n *countingNotifier) NotifyIndicator(u core.IndicatorUpdate) {
	n.m.IndicatorEvents.Inc()
	n.next.NotifyIndicator(u)
}

func (n *countingNotifier) NotifyPresence(u core.PresenceUpdate) {
	if u.Present {
		n.m.PresenceEvents.WithLabelValues("true").Inc()
	} else {
		n.m.PresenceEvents.WithLabelValues("false").Inc()
	}
	n.next.NotifyPresence(u)
}
