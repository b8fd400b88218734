package conference

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/dkeye/voiceindicator/internal/domain"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options

	mu          sync.RWMutex
	conferences map[domain.ConferenceID]*Conference
}

func NewManager(parent context.Context, opts Options) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:         ctx,
		cancel:      cancel,
		opts:        opts,
		conferences: make(map[domain.ConferenceID]*Conference),
	}
}

func (m *Manager) GetOrCreate(id domain.ConferenceID) *Conference {
	m.mu.RLock()
	conf, ok := m.conferences[id]
	if ok {
		// under the lock so a concurrent reap sees the lookup
		conf.touch()
	}
	m.mu.RUnlock()
	if ok {
		return conf
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if conf, ok = m.conferences[id]; ok {
		conf.touch()
		return conf
	}
	conf = New(m.ctx, id, m.opts)
	conf.reap = m.reap
	m.conferences[id] = conf
	if m.opts.Metrics != nil {
		m.opts.Metrics.ActiveConferences.Inc()
	}
	log.Info().Str("module", "app.conference").Str("conference", string(id)).Msg("conference created")
	go conf.Run()
	return conf
}

func (m *Manager) Get(id domain.ConferenceID) (*Conference, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conf, ok := m.conferences[id]
	return conf, ok
}

// List returns conference infos ordered by id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.conferences))
	for _, c := range m.conferences {
		out = append(out, c.Info())
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Info) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (m *Manager) Stop(id domain.ConferenceID) bool {
	m.mu.Lock()
	conf, ok := m.conferences[id]
	if ok {
		delete(m.conferences, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	conf.Stop()
	if m.opts.Metrics != nil {
		m.opts.Metrics.ActiveConferences.Dec()
	}
	log.Info().Str("module", "app.conference").Str("conference", string(id)).Msg("conference stopped")
	return true
}

// reap retires conf if it is still registered and nobody looked it up since it went idle.
func (m *Manager) reap(conf *Conference) bool {
	m.mu.Lock()
	if m.conferences[conf.id] != conf || !conf.IdleFor(m.opts.IdleTimeout) {
		m.mu.Unlock()
		return false
	}
	delete(m.conferences, conf.id)
	m.mu.Unlock()

	conf.Stop()
	if m.opts.Metrics != nil {
		m.opts.Metrics.ActiveConferences.Dec()
	}
	log.Info().Str("module", "app.conference").Str("conference", string(conf.id)).Msg("conference reaped")
	return true
}

// StopAll stops every conference; used on shutdown.
func (m *Manager) StopAll() {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.conferences {
		delete(m.conferences, id)
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.ActiveConferences.Set(0)
	}
}
