package gamestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/grimoire-games/oubliette/pkg/game"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

// SQLiteDSNForFile builds a WAL-mode dsn for a store file.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("gamestore: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("gamestore: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "gamestore: open")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT NOT NULL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			narrator_id TEXT NOT NULL,
			player_name TEXT NOT NULL DEFAULT '',
			state_json TEXT NOT NULL DEFAULT '{}',
			turn_count INTEGER NOT NULL DEFAULT 1,
			death_count INTEGER NOT NULL DEFAULT 0,
			max_turns INTEGER NOT NULL DEFAULT 16,
			can_escape INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_owner ON sessions(owner_id, updated_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS turns_by_session ON turns(session_id, id ASC);`,
		`CREATE TABLE IF NOT EXISTS endings (
			ending_id TEXT NOT NULL PRIMARY KEY,
			session_id TEXT,
			owner_id TEXT NOT NULL,
			type TEXT NOT NULL,
			cause TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL DEFAULT '',
			achievement TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			story TEXT NOT NULL DEFAULT '',
			turn_count INTEGER NOT NULL DEFAULT 0,
			death_count INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS endings_by_owner ON endings(owner_id, created_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "gamestore: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	if rec == nil {
		return errors.New("gamestore: record is nil")
	}
	if strings.TrimSpace(rec.SessionID) == "" || strings.TrimSpace(rec.OwnerID) == "" {
		return errors.New("gamestore: session and owner ids required")
	}
	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return errors.Wrap(err, "gamestore: marshal state")
	}
	now := time.Now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions(
			session_id, owner_id, thread_id, narrator_id, player_name, state_json,
			turn_count, death_count, max_turns, can_escape, completed,
			created_at_ms, updated_at_ms
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			narrator_id = excluded.narrator_id,
			player_name = excluded.player_name,
			state_json = excluded.state_json,
			turn_count = excluded.turn_count,
			death_count = excluded.death_count,
			max_turns = excluded.max_turns,
			can_escape = excluded.can_escape,
			completed = excluded.completed,
			updated_at_ms = excluded.updated_at_ms
	`, rec.SessionID, rec.OwnerID, rec.ThreadID, rec.NarratorID, rec.PlayerName, string(stateJSON),
		rec.TurnCount, rec.DeathCount, rec.MaxTurns, boolToInt(rec.CanEscape), boolToInt(rec.Completed),
		createdAt.UnixMilli(), now.UnixMilli())
	return errors.Wrap(err, "gamestore: save session")
}

func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID, ownerID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, owner_id, thread_id, narrator_id, player_name, state_json,
			turn_count, death_count, max_turns, can_escape, completed,
			created_at_ms, updated_at_ms
		FROM sessions
		WHERE session_id = ? AND owner_id = ?
	`, sessionID, ownerID)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string) ([]*SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, owner_id, thread_id, narrator_id, player_name, state_json,
			turn_count, death_count, max_turns, can_escape, completed,
			created_at_ms, updated_at_ms
		FROM sessions
		WHERE owner_id = ?
		ORDER BY updated_at_ms DESC
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "gamestore: list sessions")
	}
	defer func() { _ = rows.Close() }()

	out := []*SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "gamestore: list sessions")
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "gamestore: begin delete")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ? AND owner_id = ?`, sessionID, ownerID)
	if err != nil {
		return errors.Wrap(err, "gamestore: delete session")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "gamestore: delete turns")
	}
	// Ending records survive the session; only the back-reference is cleared.
	if _, err := tx.ExecContext(ctx, `UPDATE endings SET session_id = NULL WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "gamestore: unlink endings")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "gamestore: commit delete")
	}
	committed = true
	return nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns(session_id, role, content, created_at_ms) VALUES(?, ?, ?, ?)
	`, sessionID, role, content, time.Now().UnixMilli())
	return errors.Wrap(err, "gamestore: append turn")
}

func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at_ms FROM turns WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "gamestore: history")
	}
	defer func() { _ = rows.Close() }()

	out := []TurnRecord{}
	for rows.Next() {
		var (
			rec  TurnRecord
			atMs int64
		)
		if err := rows.Scan(&rec.Role, &rec.Content, &atMs); err != nil {
			return nil, errors.Wrap(err, "gamestore: scan turn")
		}
		rec.CreatedAt = time.UnixMilli(atMs)
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "gamestore: history")
}

func (s *SQLiteStore) SaveEnding(ctx context.Context, rec *EndingRecord) error {
	if rec == nil {
		return errors.New("gamestore: ending is nil")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var sessionID any
	if rec.SessionID != nil {
		sessionID = *rec.SessionID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO endings(
			ending_id, session_id, owner_id, type, cause, method, achievement,
			title, story, turn_count, death_count, created_at_ms
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.EndingID, sessionID, rec.OwnerID, string(rec.Type), rec.Cause, rec.Method, rec.Achievement,
		rec.Title, rec.Story, rec.TurnCount, rec.DeathCount, createdAt.UnixMilli())
	return errors.Wrap(err, "gamestore: save ending")
}

func (s *SQLiteStore) ListEndings(ctx context.Context, ownerID string) ([]*EndingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ending_id, session_id, owner_id, type, cause, method, achievement,
			title, story, turn_count, death_count, created_at_ms
		FROM endings
		WHERE owner_id = ?
		ORDER BY created_at_ms DESC
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "gamestore: list endings")
	}
	defer func() { _ = rows.Close() }()

	out := []*EndingRecord{}
	for rows.Next() {
		var (
			rec       EndingRecord
			sessionID sql.NullString
			typ       string
			atMs      int64
		)
		if err := rows.Scan(&rec.EndingID, &sessionID, &rec.OwnerID, &typ, &rec.Cause, &rec.Method,
			&rec.Achievement, &rec.Title, &rec.Story, &rec.TurnCount, &rec.DeathCount, &atMs); err != nil {
			return nil, errors.Wrap(err, "gamestore: scan ending")
		}
		if sessionID.Valid {
			v := sessionID.String
			rec.SessionID = &v
		}
		rec.Type = game.EndingType(typ)
		rec.CreatedAt = time.UnixMilli(atMs)
		out = append(out, &rec)
	}
	return out, errors.Wrap(rows.Err(), "gamestore: list endings")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		rec         SessionRecord
		stateJSON   string
		canEscape   int
		completed   int
		createdAtMs int64
		updatedAtMs int64
	)
	if err := row.Scan(&rec.SessionID, &rec.OwnerID, &rec.ThreadID, &rec.NarratorID, &rec.PlayerName,
		&stateJSON, &rec.TurnCount, &rec.DeathCount, &rec.MaxTurns, &canEscape, &completed,
		&createdAtMs, &updatedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "gamestore: scan session")
	}
	st := &game.State{}
	if err := json.Unmarshal([]byte(stateJSON), st); err != nil {
		// Corrupt state falls back to the default skeleton; the normalizer
		// rebuilds from there on the next turn.
		log.Warn().
			Str("component", "gamestore").
			Str("session_id", rec.SessionID).
			Err(err).
			Msg("dropping unparseable session state")
		st = nil
	} else if st.Player.MaxHealth == 0 && st.Location.Current == "" {
		// A '{}' column (the schema default) unmarshals cleanly into a
		// zero-valued State. Treat it like corrupt data so the caller
		// rebuilds from the default skeleton instead of playing on a
		// dead player in no location.
		st = nil
	}
	rec.State = st
	rec.CanEscape = canEscape != 0
	rec.Completed = completed != 0
	rec.CreatedAt = time.UnixMilli(createdAtMs)
	rec.UpdatedAt = time.UnixMilli(updatedAtMs)
	return &rec, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
