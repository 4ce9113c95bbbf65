package session

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/grimoire-games/oubliette/pkg/game"
)

// Event envelope types delivered to clients, in per-turn order: one reply,
// then at most one ending, then image pipeline events asynchronously.
const (
	EventReply  = "reply"
	EventEnding = "ending"
	EventImage  = "image"
	EventError  = "error"
	EventTurn   = "turn"
)

// TopicForSession is the per-session event topic; the transport forwarder
// subscribes to it and broadcasts to attached clients.
func TopicForSession(sessionID string) string { return "session:" + sessionID }

// TurnTopic carries internal turn-completed events consumed by the image
// pipeline. It is deliberately separate from the client-facing topics so the
// pipeline can lag or fail without touching delivery.
const TurnTopic = "turns"

// Envelope is the outermost wire frame for every client event.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type ReplyEvent struct {
	Success    bool        `json:"success"`
	Reply      string      `json:"reply"`
	State      *game.State `json:"state"`
	TurnCount  int         `json:"turnCount"`
	DeathCount int         `json:"deathCount"`
	CanEscape  bool        `json:"canEscape"`
	Completed  bool        `json:"completed"`
}

type EndingEvent struct {
	Type        game.EndingType `json:"endingType"`
	Title       string          `json:"title"`
	Story       string          `json:"story"`
	Cause       string          `json:"cause,omitempty"`
	Method      string          `json:"method,omitempty"`
	Achievement string          `json:"achievement,omitempty"`
	TurnCount   int             `json:"turnCount"`
	DeathCount  int             `json:"deathCount"`
	Discoveries []string        `json:"discoveries"`
}

// ImageEvent statuses: started, ready, skipped, error.
type ImageEvent struct {
	Status    string `json:"status"`
	TurnCount int    `json:"turnCount"`
	Prompt    string `json:"prompt,omitempty"`
	ImageB64  string `json:"imageB64,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ErrorEvent struct {
	Success bool       `json:"success"`
	Error   Descriptor `json:"error"`
}

// TurnCompleted is the internal post-turn notification for the image
// pipeline, carrying just enough to judge visual novelty and build a prompt.
type TurnCompleted struct {
	SessionID       string   `json:"sessionId"`
	OwnerID         string   `json:"ownerId"`
	TurnCount       int      `json:"turnCount"`
	Location        string   `json:"location"`
	LocationChanged bool     `json:"locationChanged"`
	NewDiscoveries  []string `json:"newDiscoveries"`
	Completed       bool     `json:"completed"`
}

// PublishEnvelope marshals an event into an Envelope frame and publishes it
// on the given topic.
func PublishEnvelope(pub message.Publisher, topic, eventType, sessionID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "session: marshal event")
	}
	frame, err := json.Marshal(Envelope{Type: eventType, SessionID: sessionID, Data: raw})
	if err != nil {
		return errors.Wrap(err, "session: marshal envelope")
	}
	return errors.Wrap(pub.Publish(topic, message.NewMessage(watermill.NewUUID(), frame)), "session: publish")
}
