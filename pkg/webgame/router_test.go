package webgame

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/grimoire-games/oubliette/pkg/game"
	"github.com/grimoire-games/oubliette/pkg/persistence/gamestore"
	"github.com/grimoire-games/oubliette/pkg/session"
)

// fakeService scripts the session engine. RunTurn publishes a reply envelope
// on the session topic the way the real service does, so websocket delivery
// is exercised end to end.
type fakeService struct {
	bus *gochannel.GoChannel

	mu         sync.Mutex
	historyErr error
	turnErr    error
	records    []*gamestore.SessionRecord
	turns      []gamestore.TurnRecord
}

func (f *fakeService) setTurnErr(err error)    { f.mu.Lock(); f.turnErr = err; f.mu.Unlock() }
func (f *fakeService) setHistoryErr(err error) { f.mu.Lock(); f.historyErr = err; f.mu.Unlock() }

func (f *fakeService) StartSession(_ context.Context, ownerID, playerName string) (*gamestore.SessionRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, session.E(session.KindAuthRequired, "owner required", nil)
	}
	return &gamestore.SessionRecord{SessionID: "s-new", OwnerID: ownerID, PlayerName: playerName, TurnCount: 1, State: game.DefaultState()}, nil
}

func (f *fakeService) Resume(_ context.Context, ownerID, sessionID string) (*gamestore.SessionRecord, error) {
	return &gamestore.SessionRecord{SessionID: sessionID, OwnerID: ownerID, ThreadID: "t-fresh"}, nil
}

func (f *fakeService) RunTurn(_ context.Context, ownerID, sessionID string, playerMessage any) (*session.TurnResult, error) {
	f.mu.Lock()
	turnErr := f.turnErr
	f.mu.Unlock()
	if turnErr != nil {
		return nil, turnErr
	}
	result := &session.TurnResult{Reply: "어두운 복도가 이어진다.", State: game.DefaultState(), TurnCount: 2}
	ev := session.ReplyEvent{Success: true, Reply: result.Reply, State: result.State, TurnCount: result.TurnCount}
	if err := session.PublishEnvelope(f.bus, session.TopicForSession(sessionID), session.EventReply, sessionID, ev); err != nil {
		return nil, err
	}
	return result, nil
}

func (f *fakeService) History(_ context.Context, ownerID, sessionID string) ([]gamestore.TurnRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.turns, nil
}

func (f *fakeService) List(_ context.Context, ownerID string) ([]*gamestore.SessionRecord, error) {
	return f.records, nil
}

func (f *fakeService) Endings(_ context.Context, ownerID string) ([]*gamestore.EndingRecord, error) {
	return nil, nil
}

func (f *fakeService) Delete(_ context.Context, ownerID, sessionID string) error {
	return nil
}

func newTestTransport(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	svc := &fakeService{bus: bus, turns: []gamestore.TurnRecord{{Role: "narrator", Content: "감방에서 눈을 뜬다."}}}
	hub := NewSessionHub(bus, time.Minute)
	srv := httptest.NewServer(NewRouter(svc, hub).Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.CloseAll)
	return svc, srv
}

func dialWS(t *testing.T, srv *httptest.Server, owner, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?owner=" + owner + "&sessionId=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) session.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env session.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestWebSocketTurnRoundTrip(t *testing.T) {
	_, srv := newTestTransport(t)
	conn := dialWS(t, srv, "u1", "s1")

	// history snapshot arrives first
	env := readEnvelope(t, conn)
	require.Equal(t, "history", env.Type)
	var hist []gamestore.TurnRecord
	require.NoError(t, json.Unmarshal(env.Data, &hist))
	require.Len(t, hist, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "turn", "sessionId": "s1", "message": "문을 연다"}))

	env = readEnvelope(t, conn)
	require.Equal(t, session.EventReply, env.Type)
	require.Equal(t, "s1", env.SessionID)
	var reply session.ReplyEvent
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	require.True(t, reply.Success)
	require.Equal(t, 2, reply.TurnCount)
}

func TestWebSocketRejectsUnknownSession(t *testing.T) {
	svc, srv := newTestTransport(t)
	svc.setHistoryErr(session.E(session.KindSessionNotFound, "no such session", nil))

	conn := dialWS(t, srv, "u1", "missing")
	env := readEnvelope(t, conn)
	require.Equal(t, session.EventError, env.Type)
	var ev session.ErrorEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	require.Equal(t, string(session.KindSessionNotFound), ev.Error.Category)

	// server closes the socket after the error frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestWebSocketTurnErrorOnlyReachesSubmitter(t *testing.T) {
	svc, srv := newTestTransport(t)

	conn1 := dialWS(t, srv, "u1", "s1")
	conn2 := dialWS(t, srv, "u1", "s1")
	readEnvelope(t, conn1) // history
	readEnvelope(t, conn2)

	svc.setTurnErr(session.E(session.KindNarratorUnavailable, "narrator unreachable", nil))
	require.NoError(t, conn1.WriteJSON(map[string]any{"type": "turn", "message": "달린다"}))

	env := readEnvelope(t, conn1)
	require.Equal(t, session.EventError, env.Type)
	var ev session.ErrorEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	require.Equal(t, string(session.KindNarratorUnavailable), ev.Error.Category)

	require.NoError(t, conn2.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn2.ReadMessage()
	require.Error(t, err, "non-submitting viewer must not see the error frame")
}

func TestWebSocketBroadcastReachesAllViewers(t *testing.T) {
	_, srv := newTestTransport(t)

	conn1 := dialWS(t, srv, "u1", "s1")
	conn2 := dialWS(t, srv, "u1", "s1")
	readEnvelope(t, conn1)
	readEnvelope(t, conn2)

	require.NoError(t, conn1.WriteJSON(map[string]any{"type": "turn", "message": "주위를 살핀다"}))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		env := readEnvelope(t, conn)
		require.Equal(t, session.EventReply, env.Type)
	}
}

func TestRESTCreateSession(t *testing.T) {
	_, srv := newTestTransport(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/sessions", bytes.NewBufferString(`{"playerName":"그레이"}`))
	req.Header.Set("X-Owner-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var rec gamestore.SessionRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.Equal(t, "그레이", rec.PlayerName)
	require.Equal(t, 1, rec.TurnCount)
}

func TestRESTCreateSessionRequiresOwner(t *testing.T) {
	_, srv := newTestTransport(t)

	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Success bool               `json:"success"`
		Error   session.Descriptor `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.False(t, body.Success)
	require.Equal(t, string(session.KindAuthRequired), body.Error.Category)
}

func TestRESTTurnReturnsResult(t *testing.T) {
	_, srv := newTestTransport(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/sessions/s1/turn", bytes.NewBufferString(`{"message":"북쪽으로 간다"}`))
	req.Header.Set("X-Owner-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success   bool   `json:"success"`
		Reply     string `json:"reply"`
		TurnCount int    `json:"turnCount"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Success)
	require.NotEmpty(t, body.Reply)
	require.Equal(t, 2, body.TurnCount)
}

func TestRESTTurnMapsNarratorOutage(t *testing.T) {
	svc, srv := newTestTransport(t)
	svc.setTurnErr(session.E(session.KindNarratorUnavailable, "narrator unreachable", nil))

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/sessions/s1/turn", bytes.NewBufferString(`{"message":"간다"}`))
	req.Header.Set("X-Owner-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHubDetachStopsForwarder(t *testing.T) {
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	hub := NewSessionHub(bus, 10*time.Millisecond)

	pool, err := hub.Attach("s1")
	require.NoError(t, err)
	require.Equal(t, 1, hub.LiveCount())

	// a broadcast with zero connections arms the idle timer
	pool.Broadcast([]byte("{}"))
	require.Eventually(t, func() bool { return hub.LiveCount() == 0 }, time.Second, 10*time.Millisecond)
}
