package gamestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grimoire-games/oubliette/pkg/game"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "game.db"))
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteDSNForFile(t *testing.T) {
	_, err := SQLiteDSNForFile("  ")
	require.Error(t, err)

	dsn, err := SQLiteDSNForFile("game.db")
	require.NoError(t, err)
	require.Contains(t, dsn, "file:game.db")
	require.Contains(t, dsn, "_journal_mode=WAL")
}

func TestSQLiteStoreSessionRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	st := game.DefaultState()
	st.Player.Health = 55
	st.Discoveries = []string{"녹슨 열쇠"}
	rec := &SessionRecord{
		SessionID:  "s1",
		OwnerID:    "u1",
		ThreadID:   "t1",
		NarratorID: "asst_1",
		PlayerName: "그레이",
		State:      st,
		TurnCount:  4,
		DeathCount: 1,
		MaxTurns:   16,
	}
	require.NoError(t, s.SaveSession(ctx, rec))

	got, err := s.LoadSession(ctx, "s1", "u1")
	require.NoError(t, err)
	require.Equal(t, "그레이", got.PlayerName)
	require.Equal(t, 4, got.TurnCount)
	require.Equal(t, 55, got.State.Player.Health)
	require.Equal(t, []string{"녹슨 열쇠"}, got.State.Discoveries)
	require.False(t, got.CreatedAt.IsZero())

	// ownership mismatch must look like a missing session
	_, err = s.LoadSession(ctx, "s1", "intruder")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreLoadDropsUnusableState(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &SessionRecord{SessionID: "s1", OwnerID: "u1", ThreadID: "t1", NarratorID: "asst_1", State: game.DefaultState(), TurnCount: 3}
	require.NoError(t, s.SaveSession(ctx, rec))

	for _, raw := range []string{"not json at all", "{}"} {
		_, err := s.db.Exec(`UPDATE sessions SET state_json = ? WHERE session_id = 's1'`, raw)
		require.NoError(t, err)

		got, err := s.LoadSession(ctx, "s1", "u1")
		require.NoError(t, err)
		require.Nil(t, got.State)
		require.Equal(t, 3, got.TurnCount)
	}
}

func TestSQLiteStoreUpsertKeepsOneRow(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &SessionRecord{SessionID: "s1", OwnerID: "u1", ThreadID: "t1", NarratorID: "asst_1", State: game.DefaultState(), TurnCount: 1}
	require.NoError(t, s.SaveSession(ctx, rec))

	rec.TurnCount = 2
	rec.ThreadID = "t2"
	require.NoError(t, s.SaveSession(ctx, rec))

	list, err := s.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 2, list[0].TurnCount)
	require.Equal(t, "t2", list[0].ThreadID)
}

func TestSQLiteStoreHistoryOrder(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, "s1", "player", "문을 연다"))
	require.NoError(t, s.AppendTurn(ctx, "s1", "narrator", "문이 삐걱거리며 열린다."))

	hist, err := s.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "player", hist[0].Role)
	require.Equal(t, "narrator", hist[1].Role)
}

func TestSQLiteStoreDeleteKeepsEndingUnlinked(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &SessionRecord{SessionID: "s1", OwnerID: "u1", ThreadID: "t1", NarratorID: "asst_1", State: game.DefaultState(), TurnCount: 9}))
	require.NoError(t, s.AppendTurn(ctx, "s1", "player", "탈출한다"))

	sid := "s1"
	require.NoError(t, s.SaveEnding(ctx, &EndingRecord{
		EndingID:  "e1",
		SessionID: &sid,
		OwnerID:   "u1",
		Type:      game.EndingEscape,
		Method:    "비밀 통로",
		Title:     "숨겨진 길",
		TurnCount: 9,
	}))

	require.NoError(t, s.DeleteSession(ctx, "s1", "u1"))
	require.ErrorIs(t, s.DeleteSession(ctx, "s1", "u1"), ErrNotFound)

	_, err := s.LoadSession(ctx, "s1", "u1")
	require.ErrorIs(t, err, ErrNotFound)

	hist, err := s.History(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, hist)

	endings, err := s.ListEndings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, endings, 1)
	require.Nil(t, endings[0].SessionID)
	require.Equal(t, "비밀 통로", endings[0].Method)
}
