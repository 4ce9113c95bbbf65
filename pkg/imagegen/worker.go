package imagegen

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/grimoire-games/oubliette/pkg/session"
)

// Worker subscribes to turn events and runs the pipeline: judge novelty,
// emit "started", generate, emit "ready" (or "error"); non-novel turns get a
// single "skipped". At most one image per turn, and the chat turn has always
// been delivered before the worker even sees the event.
type Worker struct {
	gen Generator
	sub message.Subscriber
	pub message.Publisher
}

func NewWorker(gen Generator, sub message.Subscriber, pub message.Publisher) *Worker {
	return &Worker{gen: gen, sub: sub, pub: pub}
}

// Run consumes turn events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ch, err := w.sub.Subscribe(ctx, session.TurnTopic)
	if err != nil {
		return err
	}
	for msg := range ch {
		w.handle(ctx, msg)
		msg.Ack()
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *message.Message) {
	var env session.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		log.Warn().Err(err).Str("component", "imagegen").Msg("undecodable turn event")
		return
	}
	var ev session.TurnCompleted
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		log.Warn().Err(err).Str("component", "imagegen").Msg("undecodable turn payload")
		return
	}

	topic := session.TopicForSession(ev.SessionID)
	emit := func(ie session.ImageEvent) {
		ie.TurnCount = ev.TurnCount
		if err := session.PublishEnvelope(w.pub, topic, session.EventImage, ev.SessionID, ie); err != nil {
			log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("could not publish image event")
		}
	}

	if !Trigger(ev) {
		emit(session.ImageEvent{Status: "skipped"})
		return
	}

	prompt := Prompt(ev)
	emit(session.ImageEvent{Status: "started", Prompt: prompt})

	img, err := w.gen.Generate(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Str("component", "imagegen").Str("session_id", ev.SessionID).
			Int("turn", ev.TurnCount).Msg("image generation failed")
		emit(session.ImageEvent{Status: "error", Error: err.Error()})
		return
	}
	emit(session.ImageEvent{Status: "ready", ImageB64: img})
}
