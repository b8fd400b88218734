// Package realtime fans indicator and presence notifications out to subscribers.
package realtime

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/voiceindicator/internal/core"
	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/google/uuid"
)

// AllAttendees subscribes to indicator updates of every attendee.
const AllAttendees domain.AttendeeID = "*"

type (
	IndicatorCallback func(core.IndicatorUpdate)
	PresenceCallback  func(core.PresenceUpdate)
)

type indicatorSub struct {
	token string
	fn    IndicatorCallback
}

type presenceSub struct {
	token string
	fn    PresenceCallback
}

// Attendee is a present attendee as seen through presence notifications.
type Attendee struct {
	AttendeeID     domain.AttendeeID `json:"attendee_id"`
	ExternalUserID string            `json:"external_user_id"`
}

// Controller implements core.Notifier. Subscriptions may change from any goroutine;
// callbacks run on the notifying goroutine, in subscription order, outside the lock.
type Controller struct {
	mu        sync.RWMutex
	indicator map[domain.AttendeeID][]indicatorSub
	presence  []presenceSub
	present   map[domain.AttendeeID]string
}

var _ core.Notifier = (*Controller)(nil)

func New() *Controller {
	return &Controller{
		indicator: make(map[domain.AttendeeID][]indicatorSub),
		present:   make(map[domain.AttendeeID]string),
	}
}

func (c *Controller) SubscribeToVolumeIndicator(id domain.AttendeeID, fn IndicatorCallback) string {
	token := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indicator[id] = append(c.indicator[id], indicatorSub{token: token, fn: fn})
	return token
}

func (c *Controller) UnsubscribeFromVolumeIndicator(id domain.AttendeeID, token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.indicator[id]
	i := slices.IndexFunc(subs, func(s indicatorSub) bool { return s.token == token })
	if i < 0 {
		return false
	}
	subs = slices.Delete(subs, i, i+1)
	if len(subs) == 0 {
		delete(c.indicator, id)
	} else {
		c.indicator[id] = subs
	}
	return true
}

func (c *Controller) SubscribeToAttendeeIDPresence(fn PresenceCallback) string {
	token := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = append(c.presence, presenceSub{token: token, fn: fn})
	return token
}

func (c *Controller) UnsubscribeFromAttendeeIDPresence(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.presence, func(s presenceSub) bool { return s.token == token })
	if i < 0 {
		return false
	}
	c.presence = slices.Delete(c.presence, i, i+1)
	return true
}

func (c *Controller) NotifyIndicator(u core.IndicatorUpdate) {
	c.mu.RLock()
	subs := make([]indicatorSub, 0, len(c.indicator[u.AttendeeID])+len(c.indicator[AllAttendees]))
	subs = append(subs, c.indicator[u.AttendeeID]...)
	if u.AttendeeID != AllAttendees {
		subs = append(subs, c.indicator[AllAttendees]...)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		s.fn(u)
	}
}

func (c *Controller) NotifyPresence(u core.PresenceUpdate) {
	c.mu.Lock()
	if u.Present {
		c.present[u.AttendeeID] = u.ExternalUserID
	} else {
		delete(c.present, u.AttendeeID)
	}
	subs := slices.Clone(c.presence)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(u)
	}
}

// Present returns the attendees currently present, ordered by id.
func (c *Controller) Present() []Attendee {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Attendee, 0, len(c.present))
	for id, ext := range c.present {
		out = append(out, Attendee{AttendeeID: id, ExternalUserID: ext})
	}
	slices.SortFunc(out, func(a, b Attendee) int { return cmp.Compare(a.AttendeeID, b.AttendeeID) })
	return out
}

func (c *Controller) PresentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.present)
}

// Subscribers counts indicator and presence subscriptions.
func (c *Controller) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.presence)
	for _, subs := range c.indicator {
		n += len(subs)
	}
	return n
}
