package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"songline/models"
)

const inboxSize = 256

// roomActor runs every operation of one room on a single goroutine.
type roomActor struct {
	session  *RoomSession
	inbox    chan func()
	done     chan struct{}
	mutex    sync.Mutex
	closed   bool
	queued   int
	lastUsed atomic.Int64
}

func newRoomActor(session *RoomSession, now time.Time) *roomActor {
	a := &roomActor{
		session: session,
		inbox:   make(chan func(), inboxSize),
		done:    make(chan struct{}),
	}
	a.lastUsed.Store(now.UnixNano())
	return a
}

// post queues fn. It reports false once the actor has been stopped.
func (a *roomActor) post(fn func()) bool {
	a.mutex.Lock()
	if a.closed {
		a.mutex.Unlock()
		return false
	}
	a.queued++
	a.mutex.Unlock()

	a.inbox <- fn
	return true
}

func (a *roomActor) run(now func() time.Time) {
	for {
		select {
		case fn := <-a.inbox:
			a.invoke(fn)
			a.mutex.Lock()
			a.queued--
			a.lastUsed.Store(now().UnixNano())
			a.mutex.Unlock()
		case <-a.done:
			return
		}
	}
}

func (a *roomActor) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("room", a.session.RoomID()).Msg("room actor recovered from panic")
		}
	}()
	fn()
}

// stopIfIdle stops the actor when nothing is queued or running.
func (a *roomActor) stopIfIdle() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.closed || a.queued > 0 {
		return false
	}
	a.closed = true
	close(a.done)
	return true
}

// RoomManager owns the live room actors. Actors are created on first use,
// load their snapshot lazily and are evicted after a period of inactivity.
type RoomManager struct {
	mutex  sync.Mutex
	actors map[string]*roomActor
	deps   SessionDeps
	idle   time.Duration
	now    func() time.Time
}

func NewRoomManager(deps SessionDeps, idle time.Duration) *RoomManager {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &RoomManager{
		actors: make(map[string]*roomActor),
		deps:   deps,
		idle:   idle,
		now:    now,
	}
}

func (m *RoomManager) actorFor(roomID string) *roomActor {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if a, ok := m.actors[roomID]; ok {
		return a
	}

	session := NewRoomSession(roomID, m.deps)
	a := newRoomActor(session, m.now())
	session.post = func(fn func()) {
		if !a.post(fn) {
			// The actor was evicted while the alarm was in flight; a fresh
			// actor reloads the snapshot and re-arms it.
			go m.wake(roomID)
		}
	}
	m.actors[roomID] = a
	go a.run(m.now)

	log.Debug().Str("room", roomID).Msg("room actor started")
	return a
}

func (m *RoomManager) send(roomID string, fn func(s *RoomSession)) {
	for {
		a := m.actorFor(roomID)
		if a.post(func() { fn(a.session) }) {
			return
		}
	}
}

func (m *RoomManager) wake(roomID string) {
	err := m.Do(context.Background(), roomID, func(s *RoomSession) error {
		return s.ensureLoaded()
	})
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("failed to wake room")
	}
}

// Do runs fn on the room's actor and waits for its result.
func (m *RoomManager) Do(ctx context.Context, roomID string, fn func(s *RoomSession) error) error {
	result := make(chan error, 1)
	m.send(roomID, func(s *RoomSession) {
		result <- fn(s)
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *RoomManager) Initialize(ctx context.Context, roomID, code string, mode models.GameMode) error {
	return m.Do(ctx, roomID, func(s *RoomSession) error {
		return s.Initialize(code, mode)
	})
}

func (m *RoomManager) HandleConnect(conn Connection) {
	m.send(conn.RoomID(), func(s *RoomSession) {
		s.Connect(conn)
	})
}

func (m *RoomManager) HandleMessage(conn Connection, msg InboundMessage) {
	m.send(conn.RoomID(), func(s *RoomSession) {
		s.Handle(conn, msg)
	})
}

func (m *RoomManager) HandleDisconnect(conn Connection, sessionID string) {
	m.send(conn.RoomID(), func(s *RoomSession) {
		s.Disconnect(conn, sessionID)
	})
}

// EvictIdle stops actors that have been idle for the configured period and
// have no live connections. It returns how many were evicted.
func (m *RoomManager) EvictIdle(now time.Time) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	evicted := 0
	for roomID, a := range m.actors {
		if now.Sub(time.Unix(0, a.lastUsed.Load())) < m.idle {
			continue
		}
		if m.deps.Hub != nil && m.deps.Hub.Count(roomID) > 0 {
			continue
		}
		if !a.stopIfIdle() {
			continue
		}
		a.session.Shutdown()
		delete(m.actors, roomID)
		evicted++
		log.Info().Str("room", roomID).Msg("idle room evicted")
	}
	return evicted
}

func (m *RoomManager) Active() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.actors)
}

// Run evicts idle rooms until ctx is cancelled, then stops every actor.
func (m *RoomManager) Run(ctx context.Context) {
	interval := m.idle / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-ticker.C:
			m.EvictIdle(m.now())
		}
	}
}

func (m *RoomManager) shutdown() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for roomID, a := range m.actors {
		if a.stopIfIdle() {
			a.session.Shutdown()
		}
		delete(m.actors, roomID)
	}
}
