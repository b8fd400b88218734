package orch

import (
	"testing"

	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	fooAttendee       = domain.AttendeeID("foo-attendee")
	fooExternal       = "foo-external"
	minVolumeDecibels = -42.0
	maxVolumeDecibels = -14.0
)

type recorder struct {
	indicators []core.IndicatorUpdate
	presence   []core.PresenceUpdate
}

func (r *recorder) NotifyIndicator(u core.IndicatorUpdate) { r.indicators = append(r.indicators, u) }
func (r *recorder) NotifyPresence(u core.PresenceUpdate) { r.presence = append(r.presence, u) }

func (r *recorder) total() int { return len(r.indicators) + len(r.presence) }

func newTestAdapter() (*VolumeIndicatorAdapter, *recorder) {
	rec := &recorder{}
	return NewVolumeIndicatorAdapter(zerolog.Nop(), rec, minVolumeDecibels, maxVolumeDecibels), rec
}

func mapFoo(t *testing.T, vi *VolumeIndicatorAdapter) {
	t.Helper()
	vi.ProcessIdentityFrame(domain.IdentityFrame{Streams: []domain.IdentityRecord{{
		StreamID:       1,
		AttendeeID:     domain.Some(fooAttendee),
		ExternalUserID: domain.Some(fooExternal),
	}}})
}

func metadata(records ...domain.MetadataRecord) domain.MetadataFrame {
	return domain.MetadataFrame{AttendeeStates: records}
}

func TestIdentityFrameFiresPresenceOnly(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	require.Len(t, rec.presence, 1)
	assert.Equal(t, core.PresenceUpdate{AttendeeID: fooAttendee, Present: true, ExternalUserID: fooExternal}, rec.presence[0])
	assert.Empty(t, rec.indicators)

	mapFoo(t, vi)
	assert.Equal(t, 1, rec.total())
}

func TestIdentityFrameSendsMuteUpdatesOnlyOnChange(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	frame := domain.IdentityFrame{Streams: []domain.IdentityRecord{{StreamID: 1, Muted: domain.Some(false)}}}
	vi.ProcessIdentityFrame(frame)
	require.Len(t, rec.indicators, 1)
	u := rec.indicators[0]
	assert.Equal(t, fooAttendee, u.AttendeeID)
	assert.Nil(t, u.Volume)
	require.NotNil(t, u.Muted)
	assert.False(t, *u.Muted)
	assert.Nil(t, u.SignalStrength)
	require.NotNil(t, u.ExternalUserID)
	assert.Equal(t, fooExternal, *u.ExternalUserID)

	vi.ProcessIdentityFrame(frame)
	assert.Len(t, rec.indicators, 1)

	frame.Streams[0].Muted = domain.Some(true)
	vi.ProcessIdentityFrame(frame)
	require.Len(t, rec.indicators, 2)
	assert.True(t, *rec.indicators[1].Muted)
	assert.Nil(t, rec.indicators[1].Volume)
	assert.Nil(t, rec.indicators[1].SignalStrength)

	frame.Streams[0].Muted = domain.None[bool]()
	vi.ProcessIdentityFrame(frame)
	assert.Len(t, rec.indicators, 2)
	assert.Len(t, rec.presence, 1)
}

func TestIdentityFrameMuteWithNewAttendee(t *testing.T) {
	vi, rec := newTestAdapter()

	vi.ProcessIdentityFrame(domain.IdentityFrame{Streams: []domain.IdentityRecord{{
		StreamID:   5,
		AttendeeID: domain.Some(fooAttendee),
		Muted:      domain.Some(true),
	}}})

	require.Len(t, rec.presence, 1)
	require.Len(t, rec.indicators, 1)
	assert.True(t, *rec.indicators[0].Muted)
	assert.Nil(t, rec.indicators[0].ExternalUserID)
}

func TestIdentityFrameUnresolvableRecordIgnored(t *testing.T) {
	vi, rec := newTestAdapter()

	vi.ProcessIdentityFrame(domain.IdentityFrame{Streams: []domain.IdentityRecord{
		{StreamID: 9, Muted: domain.Some(true)},
		{StreamID: 9, ExternalUserID: domain.Some("nobody")},
		{StreamID: 9, Dropped: domain.Some(true)},
	}})
	assert.Zero(t, rec.total())
}

func TestIdentityFrameDroppedRemovesMapping(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	drop := domain.IdentityFrame{Streams: []domain.IdentityRecord{{StreamID: 1, Dropped: domain.Some(true)}}}
	vi.ProcessIdentityFrame(drop)
	require.Len(t, rec.presence, 2)
	assert.Equal(t, core.PresenceUpdate{AttendeeID: fooAttendee, Present: false, ExternalUserID: fooExternal, Dropped: true}, rec.presence[1])

	vi.ProcessIdentityFrame(drop)
	assert.Len(t, rec.presence, 2)

	vi.ProcessMetadataFrame(metadata(domain.MetadataRecord{StreamID: 1, Volume: domain.Some(28.0)}))
	assert.Empty(t, rec.indicators)
}

func TestIdentityFrameExplicitFalseDroppedIsNotARemoval(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	vi.ProcessIdentityFrame(domain.IdentityFrame{Streams: []domain.IdentityRecord{{StreamID: 1, Dropped: domain.Some(false)}}})
	assert.Len(t, rec.presence, 1)
	_, ok := vi.Registry().Resolve(1)
	assert.True(t, ok)
}

func TestMetadataFrameNormalizesVolume(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	for i, tc := range []struct {
		raw  float64
		want float64
	}{
		{42, 0},
		{28, 0.5},
		{0, 1},
	} {
		vi.ProcessMetadataFrame(metadata(domain.MetadataRecord{StreamID: 1, Volume: domain.Some(tc.raw)}))
		require.Len(t, rec.indicators, i+1)
		u := rec.indicators[i]
		require.NotNil(t, u.Volume)
		assert.InDelta(t, tc.want, *u.Volume, 1e-9)
		assert.Nil(t, u.Muted)
		assert.Nil(t, u.SignalStrength)
	}
}

func TestMetadataFrameNormalizesSignalStrength(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	for i, tc := range []struct {
		raw  float64
		want float64
	}{
		{0, 0},
		{1, 0.5},
		{2, 1},
	} {
		vi.ProcessMetadataFrame(metadata(domain.MetadataRecord{StreamID: 1, SignalStrength: domain.Some(tc.raw)}))
		require.Len(t, rec.indicators, i+1)
		u := rec.indicators[i]
		require.NotNil(t, u.SignalStrength)
		assert.Equal(t, tc.want, *u.SignalStrength)
		assert.Nil(t, u.Volume)
		assert.Nil(t, u.Muted)
	}
}

func TestMetadataFrameReportsOnlyChangedFields(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	vi.ProcessMetadataFrame(metadata(domain.MetadataRecord{StreamID: 1, Volume: domain.Some(28.0), SignalStrength: domain.Some(2.0)}))
	vi.ProcessMetadataFrame(metadata(domain.MetadataRecord{StreamID: 1, Volume: domain.Some(42.0), SignalStrength: domain.Some(2.0)}))

	require.Len(t, rec.indicators, 2)
	second := rec.indicators[1]
	require.NotNil(t, second.Volume)
	assert.Equal(t, 0.0, *second.Volume)
	assert.Nil(t, second.SignalStrength)
	assert.Nil(t, second.Muted)
	require.NotNil(t, second.ExternalUserID)
	assert.Equal(t, fooExternal, *second.ExternalUserID)
}

func TestMetadataFrameSkipsUnmappedStream(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	frame := metadata(
		domain.MetadataRecord{StreamID: 1, Volume: domain.Some(0.0), SignalStrength: domain.Some(0.0)},
		domain.MetadataRecord{StreamID: 0xbad, Volume: domain.Some(0.0), SignalStrength: domain.Some(0.0)},
	)
	vi.ProcessMetadataFrame(frame)
	require.Len(t, rec.indicators, 1)
	u := rec.indicators[0]
	assert.Equal(t, fooAttendee, u.AttendeeID)
	assert.Equal(t, 1.0, *u.Volume)
	assert.Equal(t, 0.0, *u.SignalStrength)

	vi.ProcessMetadataFrame(frame)
	assert.Len(t, rec.indicators, 1)
}

func TestMetadataFrameAssumesBaselineForSentinelStream(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	frame := metadata(domain.MetadataRecord{StreamID: domain.SentinelStreamID, Volume: domain.Some(0.0), SignalStrength: domain.Some(0.0)})
	vi.ProcessMetadataFrame(frame)
	require.Len(t, rec.indicators, 1)
	u := rec.indicators[0]
	assert.Equal(t, fooAttendee, u.AttendeeID)
	assert.Equal(t, 0.0, *u.Volume)
	assert.False(t, *u.Muted)
	assert.Equal(t, 1.0, *u.SignalStrength)

	vi.ProcessMetadataFrame(frame)
	assert.Len(t, rec.indicators, 1)
}

func TestMetadataFrameSentinelSkippedWithoutSingleMapping(t *testing.T) {
	vi, rec := newTestAdapter()
	frame := metadata(domain.MetadataRecord{StreamID: domain.SentinelStreamID})

	vi.ProcessMetadataFrame(frame)
	assert.Zero(t, rec.total())

	mapFoo(t, vi)
	vi.ProcessIdentityFrame(domain.IdentityFrame{Streams: []domain.IdentityRecord{{StreamID: 2, AttendeeID: domain.Some(domain.AttendeeID("bar"))}}})
	vi.ProcessMetadataFrame(frame)
	assert.Empty(t, rec.indicators)
}

func TestMetadataFrameWithoutFieldsIsSilent(t *testing.T) {
	vi, rec := newTestAdapter()
	mapFoo(t, vi)

	vi.ProcessMetadataFrame(metadata(domain.MetadataRecord{StreamID: 1}))
	assert.Empty(t, rec.indicators)
}

func TestReprocessingAnyFrameIsSilent(t *testing.T) {
	frames := []struct {
		name string
		run  func(vi *VolumeIndicatorAdapter)
	}{
		{"identity with mute", func(vi *VolumeIndicatorAdapter) {
			vi.ProcessIdentityFrame(domain.IdentityFrame{Streams: []domain.IdentityRecord{
				{StreamID: 1, AttendeeID: domain.Some(fooAttendee), Muted: domain.Some(true)},
				{StreamID: 2, AttendeeID: domain.Some(domain.AttendeeID("bar")), Muted: domain.Some(false)},
			}})
		}},
		{"metadata mixed", func(vi *VolumeIndicatorAdapter) {
			vi.ProcessMetadataFrame(metadata(
				domain.MetadataRecord{StreamID: 1, Volume: domain.Some(30.0)},
				domain.MetadataRecord{StreamID: 2, SignalStrength: domain.Some(1.0)},
				domain.MetadataRecord{StreamID: 77, Volume: domain.Some(10.0)},
			))
		}},
	}
	for _, tc := range frames {
		t.Run(tc.name, func(t *testing.T) {
			vi, rec := newTestAdapter()
			mapFoo(t, vi)
			vi.ProcessIdentityFrame(domain.IdentityFrame{Streams: []domain.IdentityRecord{{StreamID: 2, AttendeeID: domain.Some(domain.AttendeeID("bar"))}}})

			tc.run(vi)
			before := rec.total()
			tc.run(vi)
			assert.Equal(t, before, rec.total())
		})
	}
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyIndicator(u core.IndicatorUpdate) { m.Called(u.AttendeeID, "indicator") }
func (m *mockNotifier) NotifyPresence(u core.PresenceUpdate) { m.Called(u.AttendeeID, "presence") }

func TestNotificationsFollowRecordOrder(t *testing.T) {
	n := new(mockNotifier)
	var order []string
	n.On("NotifyPresence", mock.Anything, "presence").Run(func(args mock.Arguments) {
		order = append(order, "presence:"+string(args.Get(0).(domain.AttendeeID)))
	})
	n.On("NotifyIndicator", mock.Anything, "indicator").Run(func(args mock.Arguments) {
		order = append(order, "indicator:"+string(args.Get(0).(domain.AttendeeID)))
	})

	vi := NewVolumeIndicatorAdapter(zerolog.Nop(), n, minVolumeDecibels, maxVolumeDecibels)
	vi.ProcessIdentityFrame(domain.IdentityFrame{Streams: []domain.IdentityRecord{
		{StreamID: 1, AttendeeID: domain.Some(domain.AttendeeID("a")), Muted: domain.Some(true)},
		{StreamID: 2, AttendeeID: domain.Some(domain.AttendeeID("b"))},
		{StreamID: 2, Muted: domain.Some(false)},
	}})

	assert.Equal(t, []string{"presence:a", "indicator:a", "presence:b", "indicator:b"}, order)
	n.AssertExpectations(t)
}
