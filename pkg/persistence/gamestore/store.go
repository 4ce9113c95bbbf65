package gamestore

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/grimoire-games/oubliette/pkg/game"
)

// ErrNotFound is returned when no session exists for the (sessionID, ownerID)
// pair; ownership mismatches are indistinguishable from absence on purpose.
var ErrNotFound = errors.New("session not found")

// SessionRecord is the persisted shape of one game session. State is always
// the full normalized state, never a partial.
type SessionRecord struct {
	SessionID  string
	OwnerID    string
	ThreadID   string
	NarratorID string
	PlayerName string

	State      *game.State
	TurnCount  int
	DeathCount int
	MaxTurns   int
	CanEscape  bool
	Completed  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TurnRecord is one prior chat turn, for history retrieval.
type TurnRecord struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// EndingRecord archives a terminal descriptor plus its rendered story.
// SessionID is a nullable back-reference: deleting a session keeps its
// endings and clears the pointer.
type EndingRecord struct {
	EndingID    string
	SessionID   *string
	OwnerID     string
	Type        game.EndingType
	Cause       string
	Method      string
	Achievement string
	Title       string
	Story       string
	TurnCount   int
	DeathCount  int
	CreatedAt   time.Time
}

// Store persists sessions, their chat history, and their endings.
type Store interface {
	SaveSession(ctx context.Context, rec *SessionRecord) error
	LoadSession(ctx context.Context, sessionID, ownerID string) (*SessionRecord, error)
	// ListSessions returns all of an owner's sessions ordered by recency.
	ListSessions(ctx context.Context, ownerID string) ([]*SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID, ownerID string) error

	AppendTurn(ctx context.Context, sessionID, role, content string) error
	History(ctx context.Context, sessionID string) ([]TurnRecord, error)

	SaveEnding(ctx context.Context, rec *EndingRecord) error
	ListEndings(ctx context.Context, ownerID string) ([]*EndingRecord, error)

	Close() error
}
