package conference

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voiceindicator/internal/app/realtime"
	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/dkeye/voiceindicator/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(m *metrics.Metrics) Options {
	return Options{
		MinVolumeDecibels: -42,
		MaxVolumeDecibels: -14,
		QueueSize:         16,
		Metrics:           m,
		Logger:            zerolog.Nop(),
	}
}

type events struct {
	mu         sync.Mutex
	indicators []core.IndicatorUpdate
	presence   []core.PresenceUpdate
}

func subscribe(c *Conference) *events {
	ev := &events{}
	c.Realtime().SubscribeToAttendeeIDPresence(func(u core.PresenceUpdate) {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		ev.presence = append(ev.presence, u)
	})
	c.Realtime().SubscribeToVolumeIndicator("*", func(u core.IndicatorUpdate) {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		ev.indicators = append(ev.indicators, u)
	})
	return ev
}

func (e *events) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.indicators), len(e.presence)
}

func TestConferenceProcessesFramesInOrder(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	mgr := NewManager(ctx, testOptions(m))
	defer mgr.StopAll()

	conf := mgr.GetOrCreate("standup")
	ev := subscribe(conf)

	require.NoError(t, conf.SubmitIdentity(domain.IdentityFrame{Streams: []domain.IdentityRecord{{
		StreamID:   1,
		AttendeeID: domain.Some(domain.AttendeeID("foo")),
	}}}))
	require.NoError(t, conf.SubmitMetadata(domain.MetadataFrame{AttendeeStates: []domain.MetadataRecord{{
		StreamID: 1,
		Volume:   domain.Some(28.0),
	}}}))
	require.NoError(t, conf.Sync(ctx))

	indicators, presence := ev.counts()
	assert.Equal(t, 1, indicators)
	assert.Equal(t, 1, presence)
	assert.Equal(t, []Info{{ID: "standup", Attendees: 1}}, mgr.List())

	streams, err := conf.Streams(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.StreamRecord{{StreamID: 1, AttendeeID: "foo"}}, streams)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesProcessed.WithLabelValues(metrics.KindIdentity)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesProcessed.WithLabelValues(metrics.KindMetadata)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndicatorEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PresenceEvents.WithLabelValues("true")))
}

func TestConferenceLeaveRemovesAttendee(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(ctx, testOptions(nil))
	defer mgr.StopAll()

	conf := mgr.GetOrCreate("standup")
	ev := subscribe(conf)
	require.NoError(t, conf.SubmitIdentity(domain.IdentityFrame{Streams: []domain.IdentityRecord{
		{StreamID: 1, AttendeeID: domain.Some(domain.AttendeeID("foo"))},
		{StreamID: 2, AttendeeID: domain.Some(domain.AttendeeID("foo"))},
	}}))
	n, err := conf.Leave(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, presence := ev.counts()
	assert.Equal(t, 2, presence)
	assert.Empty(t, conf.Realtime().Present())
}

func TestConferenceReleaseRemovesOnlyOwnedStreams(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(ctx, testOptions(nil))
	defer mgr.StopAll()

	conf := mgr.GetOrCreate("standup")
	ev := subscribe(conf)
	require.NoError(t, conf.SubmitIdentity(domain.IdentityFrame{Streams: []domain.IdentityRecord{
		{StreamID: 1, AttendeeID: domain.Some(domain.AttendeeID("foo"))},
		{StreamID: 2, AttendeeID: domain.Some(domain.AttendeeID("foo"))},
		{StreamID: 3, AttendeeID: domain.Some(domain.AttendeeID("bar"))},
	}}))

	// stream 3 was claimed for foo once but now belongs to bar
	require.NoError(t, conf.Release(ctx, map[domain.StreamID]domain.AttendeeID{1: "foo", 3: "foo"}))
	streams, err := conf.Streams(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.StreamRecord{
		{StreamID: 2, AttendeeID: "foo"},
		{StreamID: 3, AttendeeID: "bar"},
	}, streams)
	_, presence := ev.counts()
	assert.Equal(t, 2, presence)

	require.NoError(t, conf.Release(ctx, map[domain.StreamID]domain.AttendeeID{2: "foo"}))
	require.NoError(t, conf.Sync(ctx))
	_, presence = ev.counts()
	assert.Equal(t, 3, presence)
	assert.Equal(t, []realtime.Attendee{{AttendeeID: "bar"}}, conf.Realtime().Present())
}

func TestManagerReapsIdleConference(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	opts := testOptions(m)
	opts.IdleTimeout = 20 * time.Millisecond
	mgr := NewManager(context.Background(), opts)
	defer mgr.StopAll()

	conf := mgr.GetOrCreate("empty")
	require.NoError(t, conf.SubmitMetadata(domain.MetadataFrame{}))

	require.Eventually(t, func() bool { return len(mgr.List()) == 0 }, time.Second, 5*time.Millisecond)
	select {
	case <-conf.Done():
	case <-time.After(time.Second):
		t.Fatal("reaped conference loop did not stop")
	}
	assert.Zero(t, testutil.ToFloat64(m.ActiveConferences))
	assert.NotSame(t, conf, mgr.GetOrCreate("empty"))
}

func TestManagerKeepsBusyConferences(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(nil)
	opts.IdleTimeout = 20 * time.Millisecond
	mgr := NewManager(ctx, opts)
	defer mgr.StopAll()

	streams := mgr.GetOrCreate("streams")
	require.NoError(t, streams.SubmitIdentity(domain.IdentityFrame{Streams: []domain.IdentityRecord{
		{StreamID: 1, AttendeeID: domain.Some(domain.AttendeeID("foo"))},
	}}))
	require.NoError(t, streams.Sync(ctx))

	watched := mgr.GetOrCreate("watched")
	token := watched.Realtime().SubscribeToAttendeeIDPresence(func(core.PresenceUpdate) {})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []Info{{ID: "streams", Attendees: 1}, {ID: "watched"}}, mgr.List())

	watched.Realtime().UnsubscribeFromAttendeeIDPresence(token)
	require.Eventually(t, func() bool {
		_, ok := mgr.Get("watched")
		return !ok
	}, time.Second, 5*time.Millisecond)
	_, ok := mgr.Get("streams")
	assert.True(t, ok)
}

func TestConferenceRejectsWhenInboxFull(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	opts := testOptions(m)
	opts.QueueSize = 1
	// not running: nothing drains the inbox
	conf := New(context.Background(), "busy", opts)

	require.NoError(t, conf.SubmitMetadata(domain.MetadataFrame{}))
	assert.ErrorIs(t, conf.SubmitMetadata(domain.MetadataFrame{}), ErrBackpressure)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesRejected.WithLabelValues(metrics.ReasonBackpressure)))

	conf.Stop()
	assert.ErrorIs(t, conf.SubmitIdentity(domain.IdentityFrame{}), ErrClosed)
}

func TestManagerStop(t *testing.T) {
	mgr := NewManager(context.Background(), testOptions(nil))
	conf := mgr.GetOrCreate("a")
	assert.Same(t, conf, mgr.GetOrCreate("a"))

	assert.True(t, mgr.Stop("a"))
	assert.False(t, mgr.Stop("a"))
	_, ok := mgr.Get("a")
	assert.False(t, ok)

	select {
	case <-conf.Done():
	case <-time.After(time.Second):
		t.Fatal("conference loop did not stop")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, conf.Sync(ctx))
}
