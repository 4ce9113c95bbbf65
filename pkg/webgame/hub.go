package webgame

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/grimoire-games/oubliette/pkg/session"
)

const defaultIdleTimeout = 5 * time.Minute

// SessionHub tracks the live fan-out state per game session: one connection
// pool plus one bus forwarder subscribed to the session's event topic. The
// forwarder starts when the first client attaches and stops once the pool
// has been idle for the configured timeout, so sessions nobody is watching
// cost nothing.
type SessionHub struct {
	sub         message.Subscriber
	idleTimeout time.Duration

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	pool        *ConnectionPool
	stopForward context.CancelFunc
}

func NewSessionHub(sub message.Subscriber, idleTimeout time.Duration) *SessionHub {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &SessionHub{
		sub:         sub,
		idleTimeout: idleTimeout,
		live:        map[string]*liveSession{},
	}
}

// Attach returns the session's pool, starting its bus forwarder on first
// use. Every envelope published on the session topic is broadcast verbatim
// to the attached websockets, preserving publish order.
func (h *SessionHub) Attach(sessionID string) (*ConnectionPool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ls, ok := h.live[sessionID]; ok {
		ls.pool.CancelIdleTimer()
		return ls.pool, nil
	}

	forwardCtx, cancel := context.WithCancel(context.Background())
	ch, err := h.sub.Subscribe(forwardCtx, session.TopicForSession(sessionID))
	if err != nil {
		cancel()
		return nil, err
	}

	pool := NewConnectionPool(sessionID, h.idleTimeout, func() { h.detach(sessionID) })
	ls := &liveSession{pool: pool, stopForward: cancel}
	h.live[sessionID] = ls

	log.Info().Str("component", "webgame").Str("session_id", sessionID).Msg("starting session forwarder")
	go func() {
		for msg := range ch {
			pool.Broadcast(msg.Payload)
			msg.Ack()
		}
		log.Info().Str("component", "webgame").Str("session_id", sessionID).Msg("session forwarder stopped")
	}()
	return pool, nil
}

// detach tears down a session's fan-out after its pool went idle.
func (h *SessionHub) detach(sessionID string) {
	h.mu.Lock()
	ls, ok := h.live[sessionID]
	if ok {
		delete(h.live, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	ls.stopForward()
	ls.pool.CloseAll()
	log.Debug().Str("component", "webgame").Str("session_id", sessionID).Msg("idle session detached")
}

// LiveCount reports how many sessions currently have a running forwarder.
func (h *SessionHub) LiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// CloseAll stops every forwarder and closes every connection. Used on
// shutdown.
func (h *SessionHub) CloseAll() {
	h.mu.Lock()
	live := h.live
	h.live = map[string]*liveSession{}
	h.mu.Unlock()
	for _, ls := range live {
		ls.stopForward()
		ls.pool.CloseAll()
	}
}
