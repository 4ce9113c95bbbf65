package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/grimoire-games/oubliette/pkg/extract"
	"github.com/grimoire-games/oubliette/pkg/game"
	"github.com/grimoire-games/oubliette/pkg/narrator"
	"github.com/grimoire-games/oubliette/pkg/persistence/gamestore"
)

const DefaultMaxTurns = 16

// TurnSender is the conversation orchestrator surface the service consumes;
// tests substitute a scripted fake.
type TurnSender interface {
	SendTurn(ctx context.Context, threadID, narratorID string, playerMessage any) (string, error)
}

type ServiceConfig struct {
	Store      gamestore.Store
	Narrator   narrator.Client
	Sender     TurnSender
	Publisher  message.Publisher
	NarratorID string
	MaxTurns   int
}

// Service runs the per-session turn pipeline: orchestrate, extract,
// normalize, evaluate, persist, publish. Sessions are single-writer: a
// per-session lock serializes the whole pipeline so two back-to-back turns
// can never merge deltas against stale state. Distinct sessions proceed
// concurrently.
type Service struct {
	store      gamestore.Store
	narrator   narrator.Client
	sender     TurnSender
	pub        message.Publisher
	narratorID string
	maxTurns   int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// degraded marks sessions whose last save failed after the narrator call
	// already advanced; the divergence is discarded and logged on next load.
	degraded map[string]bool
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is nil")
	}
	if cfg.Narrator == nil {
		return nil, errors.New("session: narrator client is nil")
	}
	if cfg.Sender == nil {
		return nil, errors.New("session: turn sender is nil")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("session: publisher is nil")
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Service{
		store:      cfg.Store,
		narrator:   cfg.Narrator,
		sender:     cfg.Sender,
		pub:        cfg.Publisher,
		narratorID: cfg.NarratorID,
		maxTurns:   maxTurns,
		locks:      map[string]*sync.Mutex{},
		degraded:   map[string]bool{},
	}, nil
}

// TurnResult is the terminal outcome of one submitted turn.
type TurnResult struct {
	Reply      string
	State      *game.State
	TurnCount  int
	DeathCount int
	CanEscape  bool
	Completed  bool
	Ending     *EndingEvent

	locationChanged bool
	newDiscoveries  []string
}

// StartSession creates a fresh session bound to a new narrator thread.
func (s *Service) StartSession(ctx context.Context, ownerID, playerName string) (*gamestore.SessionRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, E(KindAuthRequired, "owner required", nil)
	}
	threadID, err := s.narrator.CreateThread(ctx)
	if err != nil {
		return nil, E(KindNarratorUnavailable, "could not open narrator thread", err)
	}
	rec := &gamestore.SessionRecord{
		SessionID:  uuid.NewString(),
		OwnerID:    ownerID,
		ThreadID:   threadID,
		NarratorID: s.narratorID,
		PlayerName: strings.TrimSpace(playerName),
		State:      game.DefaultState(),
		TurnCount:  1,
		MaxTurns:   s.maxTurns,
	}
	if err := s.store.SaveSession(ctx, rec); err != nil {
		return nil, E(KindPersistenceFailure, "could not save new session", err)
	}
	log.Info().Str("component", "session").Str("session_id", rec.SessionID).
		Str("thread_id", threadID).Msg("session started")
	return rec, nil
}

// Resume rebinds a saved session to a fresh narrator thread. This is the only
// point where a session's thread id may change.
func (s *Service) Resume(ctx context.Context, ownerID, sessionID string) (*gamestore.SessionRecord, error) {
	rec, err := s.load(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	threadID, err := s.narrator.CreateThread(ctx)
	if err != nil {
		return nil, E(KindNarratorUnavailable, "could not open narrator thread", err)
	}
	old := rec.ThreadID
	rec.ThreadID = threadID
	if err := s.store.SaveSession(ctx, rec); err != nil {
		return nil, E(KindPersistenceFailure, "could not save resumed session", err)
	}
	if old != "" {
		s.deleteThreadBestEffort(old)
	}
	log.Info().Str("component", "session").Str("session_id", sessionID).
		Str("thread_id", threadID).Msg("session resumed on fresh thread")
	return rec, nil
}

// RunTurn processes one player message end to end. It holds the session's
// writer lock for the entire pipeline; a second submission for the same
// session blocks here until the first has fully committed.
func (s *Service) RunTurn(ctx context.Context, ownerID, sessionID string, playerMessage any) (*TurnResult, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, E(KindAuthRequired, "owner required", nil)
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, E(KindInvalidInput, "missing session id", nil)
	}
	if playerMessage == nil {
		return nil, E(KindInvalidInput, "missing message", nil)
	}
	if msg, ok := playerMessage.(string); ok && strings.TrimSpace(msg) == "" {
		return nil, E(KindInvalidInput, "missing message", nil)
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.load(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.Completed {
		return nil, E(KindInvalidInput, "session already completed", nil)
	}

	reply, err := s.sender.SendTurn(ctx, rec.ThreadID, rec.NarratorID, playerMessage)
	if err != nil {
		if errors.Is(err, narrator.ErrUnavailable) {
			return nil, E(KindNarratorUnavailable, "narrator did not answer", err)
		}
		return nil, E(KindNarratorUnavailable, "turn aborted", err)
	}

	result := s.applyReply(rec, reply)

	if err := s.store.SaveSession(ctx, rec); err != nil {
		// The narrator's thread memory has already advanced; the local store
		// has not. Policy: discard the divergence, mark the session degraded
		// and surface the failure.
		s.markDegraded(sessionID)
		return nil, E(KindPersistenceFailure, "turn could not be persisted", err)
	}
	s.appendHistory(ctx, sessionID, playerMessage, reply)
	if result.Ending != nil {
		s.archiveEnding(ctx, rec, result.Ending)
	}
	s.publishTurn(rec, result)
	if rec.Completed {
		s.releaseSession(sessionID)
	}

	return result, nil
}

// applyReply runs extraction, normalization and the ending machine, mutating
// the record in place. Extraction is fully absorbing: a reply with no
// recognized markers leaves state untouched except the turn counter.
func (s *Service) applyReply(rec *gamestore.SessionRecord, reply string) *TurnResult {
	delta := game.MergeDelta(extract.Extract(reply), extract.ExtractSummary(reply))
	if delta.IsZero() {
		log.Debug().Str("component", "session").Str("session_id", rec.SessionID).
			Msg("no recognized markers in reply, keeping prior state")
	}
	sig := extract.Signals(reply)

	prev := rec.State
	if prev == nil {
		prev = game.DefaultState()
	}
	next := game.Normalize(prev, delta)
	out := game.Evaluate(sig, next, rec.TurnCount, rec.DeathCount, rec.MaxTurns, delta)

	rec.State = next
	rec.TurnCount = out.TurnCount
	rec.DeathCount = out.DeathCount
	if out.CanEscape {
		// canEscape never reverts once set.
		rec.CanEscape = true
	}
	if out.Completed {
		rec.Completed = true
	}

	result := &TurnResult{
		Reply:      reply,
		State:      next,
		TurnCount:  rec.TurnCount,
		DeathCount: rec.DeathCount,
		CanEscape:  rec.CanEscape,
		Completed:  rec.Completed,

		locationChanged: next.Location.Current != prev.Location.Current,
		newDiscoveries:  append([]string(nil), next.Discoveries[len(prev.Discoveries):]...),
	}
	if out.Ending != nil {
		title, story := game.Story(*out.Ending, rec.PlayerName)
		result.Ending = &EndingEvent{
			Type:        out.Ending.Type,
			Title:       title,
			Story:       story,
			Cause:       out.Ending.Cause,
			Method:      out.Ending.Method,
			Achievement: out.Ending.Achievement,
			TurnCount:   out.Ending.TurnCount,
			DeathCount:  out.Ending.DeathCount,
			Discoveries: out.Ending.Discoveries,
		}
	}
	return result
}

func (s *Service) History(ctx context.Context, ownerID, sessionID string) ([]gamestore.TurnRecord, error) {
	if _, err := s.load(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}
	hist, err := s.store.History(ctx, sessionID)
	if err != nil {
		return nil, E(KindPersistenceFailure, "could not load history", err)
	}
	return hist, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]*gamestore.SessionRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, E(KindAuthRequired, "owner required", nil)
	}
	list, err := s.store.ListSessions(ctx, ownerID)
	if err != nil {
		return nil, E(KindPersistenceFailure, "could not list sessions", err)
	}
	return list, nil
}

// Endings returns the owner's archived endings, newest first. Endings whose
// session was deleted survive with a nil session reference.
func (s *Service) Endings(ctx context.Context, ownerID string) ([]*gamestore.EndingRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, E(KindAuthRequired, "owner required", nil)
	}
	list, err := s.store.ListEndings(ctx, ownerID)
	if err != nil {
		return nil, E(KindPersistenceFailure, "could not list endings", err)
	}
	return list, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, sessionID string) error {
	rec, err := s.load(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, sessionID, ownerID); err != nil {
		if errors.Is(err, gamestore.ErrNotFound) {
			return E(KindSessionNotFound, "no such session", err)
		}
		return E(KindPersistenceFailure, "could not delete session", err)
	}
	s.deleteThreadBestEffort(rec.ThreadID)
	s.releaseSession(sessionID)
	return nil
}

func (s *Service) load(ctx context.Context, ownerID, sessionID string) (*gamestore.SessionRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, E(KindAuthRequired, "owner required", nil)
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, E(KindInvalidInput, "missing session id", nil)
	}
	rec, err := s.store.LoadSession(ctx, sessionID, ownerID)
	if err != nil {
		if errors.Is(err, gamestore.ErrNotFound) {
			return nil, E(KindSessionNotFound, "no such session", err)
		}
		return nil, E(KindPersistenceFailure, "could not load session", err)
	}
	if s.wasDegraded(sessionID) {
		log.Warn().Str("component", "session").Str("session_id", sessionID).
			Msg("session previously diverged from narrator memory after a failed save; continuing from stored state")
	}
	if rec.State == nil {
		rec.State = game.DefaultState()
	}
	if rec.MaxTurns <= 0 {
		rec.MaxTurns = s.maxTurns
	}
	return rec, nil
}

func (s *Service) appendHistory(ctx context.Context, sessionID string, playerMessage any, reply string) {
	msg, ok := playerMessage.(string)
	if !ok {
		msg = fmt.Sprintf("%v", playerMessage)
	}
	if err := s.store.AppendTurn(ctx, sessionID, "user", msg); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("could not append user turn to history")
	}
	if err := s.store.AppendTurn(ctx, sessionID, "assistant", reply); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("could not append assistant turn to history")
	}
}

func (s *Service) archiveEnding(ctx context.Context, rec *gamestore.SessionRecord, ev *EndingEvent) {
	sid := rec.SessionID
	err := s.store.SaveEnding(ctx, &gamestore.EndingRecord{
		EndingID:    uuid.NewString(),
		SessionID:   &sid,
		OwnerID:     rec.OwnerID,
		Type:        ev.Type,
		Cause:       ev.Cause,
		Method:      ev.Method,
		Achievement: ev.Achievement,
		Title:       ev.Title,
		Story:       ev.Story,
		TurnCount:   ev.TurnCount,
		DeathCount:  ev.DeathCount,
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("could not archive ending")
	}
}

// publishTurn emits the client-facing reply (and ending) envelopes, then the
// internal turn event the image pipeline listens on. Publishing is
// best-effort: the turn already committed.
func (s *Service) publishTurn(rec *gamestore.SessionRecord, result *TurnResult) {
	topic := TopicForSession(rec.SessionID)
	replyEv := ReplyEvent{
		Success:    true,
		Reply:      result.Reply,
		State:      result.State,
		TurnCount:  result.TurnCount,
		DeathCount: result.DeathCount,
		CanEscape:  result.CanEscape,
		Completed:  result.Completed,
	}
	if err := PublishEnvelope(s.pub, topic, EventReply, rec.SessionID, replyEv); err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("could not publish reply event")
	}
	if result.Ending != nil {
		if err := PublishEnvelope(s.pub, topic, EventEnding, rec.SessionID, result.Ending); err != nil {
			log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("could not publish ending event")
		}
	}

	turnEv := TurnCompleted{
		SessionID:       rec.SessionID,
		OwnerID:         rec.OwnerID,
		TurnCount:       result.TurnCount,
		Location:        result.State.Location.Current,
		LocationChanged: result.locationChanged,
		NewDiscoveries:  result.newDiscoveries,
		Completed:       result.Completed,
	}
	if err := PublishEnvelope(s.pub, TurnTopic, EventTurn, rec.SessionID, turnEv); err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("could not publish turn event")
	}
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// releaseSession drops the per-session bookkeeping once the session can take
// no further turns. A goroutine still blocked on the old mutex proceeds
// harmlessly: its load sees a deleted or completed session and rejects.
func (s *Service) releaseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, sessionID)
	delete(s.degraded, sessionID)
}

func (s *Service) markDegraded(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded[sessionID] = true
}

func (s *Service) wasDegraded(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded[sessionID]
}

func (s *Service) deleteThreadBestEffort(threadID string) {
	if threadID == "" {
		return
	}
	go func() {
		if err := s.narrator.DeleteThread(context.Background(), threadID); err != nil {
			log.Warn().Err(err).Str("thread_id", threadID).Msg("could not delete narrator thread")
		}
	}()
}
