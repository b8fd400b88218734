package app

import (
	"cmp"
	"slices"

	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps audio stream ids to attendees and tracks attendee presence.
// It is not safe for concurrent use; one conference loop owns it.
type Registry struct {
	presence core.PresenceNotifier

	streams    map[domain.StreamID]*domain.StreamRecord
	byAttendee map[domain.AttendeeID]map[domain.StreamID]struct{}
	// last known external user id, kept across reconnects of the same attendee
	external map[domain.AttendeeID]string
}

func NewRegistry(presence core.PresenceNotifier) *Registry {
	return &Registry{
		presence:   presence,
		streams:    make(map[domain.StreamID]*domain.StreamRecord),
		byAttendee: make(map[domain.AttendeeID]map[domain.StreamID]struct{}),
		external:   make(map[domain.AttendeeID]string),
	}
}

// Apply folds one identity record into the mapping and returns the attendee the record refers to.
// A record without an attendee id refers to the attendee already mapped to its stream, if any.
func (r *Registry) Apply(rec domain.IdentityRecord) (domain.AttendeeID, bool) {
	if rec.StreamID == domain.SentinelStreamID {
		log.Debug().Str("module", "app.registry").Msg("identity record for sentinel stream ignored")
		return "", false
	}
	if id := rec.AttendeeID.Or(""); id != "" {
		r.bind(rec.StreamID, id, rec.ExternalUserID)
		return id, true
	}
	cur, ok := r.streams[rec.StreamID]
	if !ok {
		log.Debug().Str("module", "app.registry").Uint32("stream", uint32(rec.StreamID)).Msg("identity record for unmapped stream ignored")
		return "", false
	}
	if ext, ok := rec.ExternalUserID.Get(); ok {
		r.external[cur.AttendeeID] = ext
		cur.ExternalUserID = ext
	}
	return cur.AttendeeID, true
}

func (r *Registry) bind(sid domain.StreamID, id domain.AttendeeID, ext domain.Opt[string]) {
	if v, ok := ext.Get(); ok {
		r.external[id] = v
	}
	if cur, ok := r.streams[sid]; ok && cur.AttendeeID != id {
		log.Info().Str("module", "app.registry").Uint32("stream", uint32(sid)).
			Str("from", string(cur.AttendeeID)).Str("to", string(id)).Msg("stream reassigned")
		r.detach(sid, cur.AttendeeID, false)
	}

	wasPresent := len(r.byAttendee[id]) > 0
	r.streams[sid] = &domain.StreamRecord{StreamID: sid, AttendeeID: id, ExternalUserID: r.external[id]}
	set, ok := r.byAttendee[id]
	if !ok {
		set = make(map[domain.StreamID]struct{})
		r.byAttendee[id] = set
	}
	set[sid] = struct{}{}

	if !wasPresent {
		log.Info().Str("module", "app.registry").Str("attendee", string(id)).Uint32("stream", uint32(sid)).Msg("attendee present")
		r.presence.NotifyPresence(core.PresenceUpdate{
			AttendeeID:     id,
			Present:        true,
			ExternalUserID: r.external[id],
		})
	}
}

// Resolve returns the attendee mapped to sid; unknown and stale ids resolve to nothing.
func (r *Registry) Resolve(sid domain.StreamID) (domain.AttendeeID, bool) {
	rec, ok := r.streams[sid]
	if !ok {
		return "", false
	}
	return rec.AttendeeID, true
}

// Sole returns the attendee of the only active mapping. With zero or several mappings
// there is no unambiguous target and nothing is returned.
func (r *Registry) Sole() (domain.AttendeeID, bool) {
	if len(r.streams) != 1 {
		return "", false
	}
	for _, rec := range r.streams {
		return rec.AttendeeID, true
	}
	return "", false
}

func (r *Registry) ExternalUserID(id domain.AttendeeID) (string, bool) {
	ext, ok := r.external[id]
	return ext, ok
}

// Remove drops the mapping of sid. The owning attendee goes absent when it was its last stream.
func (r *Registry) Remove(sid domain.StreamID, dropped bool) bool {
	rec, ok := r.streams[sid]
	if !ok {
		return false
	}
	r.detach(sid, rec.AttendeeID, dropped)
	return true
}

// RemoveAttendee drops every stream of id and returns how many were removed.
func (r *Registry) RemoveAttendee(id domain.AttendeeID, dropped bool) int {
	sids := make([]domain.StreamID, 0, len(r.byAttendee[id]))
	for sid := range r.byAttendee[id] {
		sids = append(sids, sid)
	}
	slices.Sort(sids)
	for _, sid := range sids {
		r.detach(sid, id, dropped)
	}
	return len(sids)
}

func (r *Registry) detach(sid domain.StreamID, id domain.AttendeeID, dropped bool) {
	delete(r.streams, sid)
	set := r.byAttendee[id]
	delete(set, sid)
	if len(set) > 0 {
		return
	}
	delete(r.byAttendee, id)
	log.Info().Str("module", "app.registry").Str("attendee", string(id)).Bool("dropped", dropped).Msg("attendee absent")
	r.presence.NotifyPresence(core.PresenceUpdate{
		AttendeeID:     id,
		Present:        false,
		ExternalUserID: r.external[id],
		Dropped:        dropped,
	})
}

func (r *Registry) Len() int { return len(r.streams) }

// Snapshot returns the active mappings ordered by stream id.
func (r *Registry) Snapshot() []domain.StreamRecord {
	out := make([]domain.StreamRecord, 0, len(r.streams))
	for _, rec := range r.streams {
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b domain.StreamRecord) int {
		return cmp.Compare(a.StreamID, b.StreamID)
	})
	return out
}
