package narrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// The directive rides along with every player message so the narrator keeps
// the scene moving instead of looping in place. It is a transport concern,
// not game logic, but the extraction layer assumes state changes most turns.
const (
	turnDirective = "\n\n(지시: 플레이어의 행동에 따라 상황을 의미 있게 진전시키고, " +
		"위치/상태 마커를 반드시 포함해 응답하라.)"
	shortDirective = "\n\n(지시: 상황을 진전시켜라.)"
)

const (
	defaultPollInterval = time.Second
	defaultRetryBackoff = 10 * time.Second
	defaultPollBudget   = 120
)

// Clock abstracts cooperative waiting so tests can run the polling loop
// without real time passing.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Orchestrator serializes turns against a narrator thread. A thread allows a
// single in-flight generation; the poll-and-wait step here is the bridge
// between that external constraint and local control flow, so no in-process
// lock is needed.
type Orchestrator struct {
	client       Client
	pollInterval time.Duration
	retryBackoff time.Duration
	// pollBudget bounds the number of poll iterations for one wait.
	pollBudget int
	clock      Clock
}

type OrchestratorOption func(*Orchestrator)

func WithPollInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.pollInterval = d }
}

func WithRetryBackoff(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.retryBackoff = d }
}

func WithClock(c Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

func NewOrchestrator(client Client, opts ...OrchestratorOption) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("narrator: client is nil")
	}
	o := &Orchestrator{
		client:       client,
		pollInterval: defaultPollInterval,
		retryBackoff: defaultRetryBackoff,
		pollBudget:   defaultPollBudget,
		clock:        realClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SendTurn appends the player's move to the thread, runs the narrator and
// returns the raw completion text unmodified. The player message may be any
// value; non-text input (a raw numeric choice, for instance) is coerced to
// its string form before sending.
//
// On append failure it waits one fixed backoff and retries exactly once with
// a shortened directive; a second failure aborts the turn with
// ErrUnavailable and no state mutation downstream.
func (o *Orchestrator) SendTurn(ctx context.Context, threadID, narratorID string, playerMessage any) (string, error) {
	text := coerceText(playerMessage)

	if err := o.waitForIdleThread(ctx, threadID); err != nil {
		return "", err
	}

	if err := o.client.AppendMessage(ctx, threadID, text+turnDirective); err != nil {
		log.Warn().Err(err).Str("component", "narrator").Str("thread_id", threadID).
			Msg("message append failed, backing off for one retry")
		if serr := o.clock.Sleep(ctx, o.retryBackoff); serr != nil {
			return "", serr
		}
		if err := o.client.AppendMessage(ctx, threadID, text+shortDirective); err != nil {
			return "", errors.Wrapf(ErrUnavailable, "append retry failed: %v", err)
		}
	}

	run, err := o.client.StartRun(ctx, threadID, narratorID)
	if err != nil {
		return "", errors.Wrapf(ErrUnavailable, "start run failed: %v", err)
	}

	status := run.Status
	for i := 0; status.Busy(); i++ {
		if i >= o.pollBudget {
			return "", errors.Wrapf(ErrUnavailable, "run %s still busy after %d polls", run.ID, o.pollBudget)
		}
		if err := o.clock.Sleep(ctx, o.pollInterval); err != nil {
			return "", err
		}
		status, err = o.client.RunStatus(ctx, threadID, run.ID)
		if err != nil {
			return "", errors.Wrapf(ErrUnavailable, "run status failed: %v", err)
		}
	}
	if status != RunCompleted {
		return "", errors.Wrapf(ErrUnavailable, "run %s ended with status %s", run.ID, status)
	}

	reply, err := o.client.LatestReply(ctx, threadID)
	if err != nil {
		return "", errors.Wrapf(ErrUnavailable, "fetch reply failed: %v", err)
	}
	return reply, nil
}

// waitForIdleThread blocks (cooperatively, fixed interval) until any
// in-flight generation on the thread reaches a terminal status.
func (o *Orchestrator) waitForIdleThread(ctx context.Context, threadID string) error {
	for i := 0; ; i++ {
		run, found, err := o.client.ActiveRun(ctx, threadID)
		if err != nil {
			return errors.Wrapf(ErrUnavailable, "list runs failed: %v", err)
		}
		if !found || !run.Status.Busy() {
			return nil
		}
		if i >= o.pollBudget {
			return errors.Wrapf(ErrUnavailable, "thread %s busy after %d polls", threadID, o.pollBudget)
		}
		log.Debug().Str("component", "narrator").Str("thread_id", threadID).
			Str("run_id", run.ID).Str("status", string(run.Status)).
			Msg("waiting for in-flight generation")
		if err := o.clock.Sleep(ctx, o.pollInterval); err != nil {
			return err
		}
	}
}

func coerceText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
