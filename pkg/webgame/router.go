package webgame

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/grimoire-games/oubliette/pkg/persistence/gamestore"
	"github.com/grimoire-games/oubliette/pkg/session"
)

// GameService is the session-engine surface the transport consumes; tests
// substitute a scripted fake.
type GameService interface {
	StartSession(ctx context.Context, ownerID, playerName string) (*gamestore.SessionRecord, error)
	Resume(ctx context.Context, ownerID, sessionID string) (*gamestore.SessionRecord, error)
	RunTurn(ctx context.Context, ownerID, sessionID string, playerMessage any) (*session.TurnResult, error)
	History(ctx context.Context, ownerID, sessionID string) ([]gamestore.TurnRecord, error)
	List(ctx context.Context, ownerID string) ([]*gamestore.SessionRecord, error)
	Endings(ctx context.Context, ownerID string) ([]*gamestore.EndingRecord, error)
	Delete(ctx context.Context, ownerID, sessionID string) error
}

// Router owns the HTTP surface: the websocket endpoint plus the REST session
// API. It performs no authentication itself; it trusts the owner identity
// injected upstream (header for REST, query parameter for the websocket)
// and enforces ownership by passing it to every service call.
type Router struct {
	mux      *http.ServeMux
	svc      GameService
	hub      *SessionHub
	upgrader websocket.Upgrader
}

func NewRouter(svc GameService, hub *SessionHub) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		svc:      svc,
		hub:      hub,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	r.mux.HandleFunc("GET /ws", r.handleWS)
	r.mux.HandleFunc("POST /api/sessions", r.handleCreateSession)
	r.mux.HandleFunc("GET /api/sessions", r.handleListSessions)
	r.mux.HandleFunc("DELETE /api/sessions/{id}", r.handleDeleteSession)
	r.mux.HandleFunc("POST /api/sessions/{id}/resume", r.handleResumeSession)
	r.mux.HandleFunc("GET /api/sessions/{id}/history", r.handleHistory)
	r.mux.HandleFunc("POST /api/sessions/{id}/turn", r.handleTurn)
	r.mux.HandleFunc("GET /api/endings", r.handleListEndings)
	return r
}

func (r *Router) Handler() http.Handler { return r.mux }

// ownerFromRequest reads the caller identity the outer auth layer injected.
func ownerFromRequest(req *http.Request) string {
	if owner := strings.TrimSpace(req.Header.Get("X-Owner-ID")); owner != "" {
		return owner
	}
	return strings.TrimSpace(req.URL.Query().Get("owner"))
}

// clientCommand is a frame received over the websocket.
type clientCommand struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Message   json.RawMessage `json:"message"`
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	owner := ownerFromRequest(req)
	sessionID := strings.TrimSpace(req.URL.Query().Get("sessionId"))

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Error().Err(err).Str("component", "webgame").Msg("websocket upgrade failed")
		return
	}
	if owner == "" || sessionID == "" {
		_ = conn.WriteMessage(websocket.TextMessage, mustEnvelope(session.EventError, sessionID, session.ErrorEvent{
			Error: session.Descriptor{Category: string(session.KindAuthRequired), Message: "owner and sessionId required"},
		}))
		_ = conn.Close()
		return
	}

	// History doubles as the ownership check: unknown or foreign sessions
	// never get a pool attachment.
	hist, err := r.svc.History(req.Context(), owner, sessionID)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, mustEnvelope(session.EventError, sessionID, session.ErrorEvent{Error: session.Describe(err)}))
		_ = conn.Close()
		return
	}

	pool, err := r.hub.Attach(sessionID)
	if err != nil {
		log.Error().Err(err).Str("component", "webgame").Str("session_id", sessionID).Msg("could not attach session forwarder")
		_ = conn.Close()
		return
	}
	pool.Add(conn)
	pool.SendToOne(conn, mustEnvelope("history", sessionID, hist))

	go r.readLoop(conn, pool, owner, sessionID)
}

// readLoop consumes client frames until the connection drops. Turn
// submissions run in their own goroutine so a long narrator call never
// blocks the loop; per-session ordering is enforced downstream by the
// session lock.
func (r *Router) readLoop(conn *websocket.Conn, pool *ConnectionPool, owner, sessionID string) {
	defer pool.Remove(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			pool.SendToOne(conn, mustEnvelope(session.EventError, sessionID, session.ErrorEvent{
				Error: session.Descriptor{Category: string(session.KindInvalidInput), Message: "malformed frame"},
			}))
			continue
		}
		switch cmd.Type {
		case "turn":
			go r.submitTurn(conn, pool, owner, sessionID, cmd)
		case "history":
			hist, err := r.svc.History(context.Background(), owner, sessionID)
			if err != nil {
				pool.SendToOne(conn, mustEnvelope(session.EventError, sessionID, session.ErrorEvent{Error: session.Describe(err)}))
				continue
			}
			pool.SendToOne(conn, mustEnvelope("history", sessionID, hist))
		default:
			pool.SendToOne(conn, mustEnvelope(session.EventError, sessionID, session.ErrorEvent{
				Error: session.Descriptor{Category: string(session.KindInvalidInput), Message: "unknown frame type"},
			}))
		}
	}
}

// submitTurn runs one turn. Success produces no direct response: the reply
// and any ending arrive through the session topic broadcast, so every
// submission yields exactly one terminal event either way.
func (r *Router) submitTurn(conn *websocket.Conn, pool *ConnectionPool, owner, sessionID string, cmd clientCommand) {
	sid := cmd.SessionID
	if sid == "" {
		sid = sessionID
	}
	var payload any
	if len(cmd.Message) > 0 {
		if err := json.Unmarshal(cmd.Message, &payload); err != nil {
			payload = string(cmd.Message)
		}
	}
	if _, err := r.svc.RunTurn(context.Background(), owner, sid, payload); err != nil {
		pool.SendToOne(conn, mustEnvelope(session.EventError, sid, session.ErrorEvent{Error: session.Describe(err)}))
	}
}

func (r *Router) handleCreateSession(w http.ResponseWriter, req *http.Request) {
	owner := ownerFromRequest(req)
	var body struct {
		PlayerName string `json:"playerName"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && err != io.EOF {
		writeError(w, session.E(session.KindInvalidInput, "bad request body", err))
		return
	}
	rec, err := r.svc.StartSession(req.Context(), owner, body.PlayerName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (r *Router) handleListSessions(w http.ResponseWriter, req *http.Request) {
	list, err := r.svc.List(req.Context(), ownerFromRequest(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (r *Router) handleDeleteSession(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Delete(req.Context(), ownerFromRequest(req), req.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleResumeSession(w http.ResponseWriter, req *http.Request) {
	rec, err := r.svc.Resume(req.Context(), ownerFromRequest(req), req.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	hist, err := r.svc.History(req.Context(), ownerFromRequest(req), req.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// handleTurn is the synchronous REST path: the caller blocks for the full
// pipeline and receives the reply, updated state, and any ending in one
// response. Websocket viewers of the same session still get the broadcast.
func (r *Router) handleTurn(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, session.E(session.KindInvalidInput, "bad request body", err))
		return
	}
	var payload any
	if len(body.Message) > 0 {
		if err := json.Unmarshal(body.Message, &payload); err != nil {
			payload = string(body.Message)
		}
	}
	result, err := r.svc.RunTurn(req.Context(), ownerFromRequest(req), req.PathValue("id"), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"reply":      result.Reply,
		"state":      result.State,
		"turnCount":  result.TurnCount,
		"deathCount": result.DeathCount,
		"canEscape":  result.CanEscape,
		"completed":  result.Completed,
		"ending":     result.Ending,
	})
}

func (r *Router) handleListEndings(w http.ResponseWriter, req *http.Request) {
	list, err := r.svc.Endings(req.Context(), ownerFromRequest(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webgame").Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	desc := session.Describe(err)
	writeJSON(w, statusForKind(session.KindOf(err)), map[string]any{
		"success": false,
		"error":   desc,
	})
}

func statusForKind(kind session.ErrorKind) int {
	switch kind {
	case session.KindAuthRequired:
		return http.StatusUnauthorized
	case session.KindUnauthorized:
		return http.StatusForbidden
	case session.KindSessionNotFound:
		return http.StatusNotFound
	case session.KindInvalidInput:
		return http.StatusBadRequest
	case session.KindNarratorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// mustEnvelope frames an event for direct socket delivery. Marshal failures
// cannot happen for the event types used here.
func mustEnvelope(eventType, sessionID string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("component", "webgame").Msg("event marshal failed")
		return nil
	}
	frame, _ := json.Marshal(session.Envelope{Type: eventType, SessionID: sessionID, Data: raw})
	return frame
}
