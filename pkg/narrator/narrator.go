// Package narrator wraps the external game-master model behind a small
// thread-oriented client and serializes turns against it. The narrator is
// opaque: it keeps its own conversational memory per thread and allows at
// most one in-flight generation per thread.
package narrator

import (
	"context"

	"github.com/pkg/errors"
)

// RunStatus is the lifecycle state of one generation on a thread.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunExpired    RunStatus = "expired"
	RunCancelled  RunStatus = "cancelled"
)

// Busy reports whether the run still occupies the thread.
func (s RunStatus) Busy() bool {
	switch s {
	case RunQueued, RunInProgress:
		return true
	}
	return false
}

// Run identifies one generation on a thread.
type Run struct {
	ID     string
	Status RunStatus
}

// ErrUnavailable marks the narrator as unreachable after the bounded retry;
// the turn is aborted and no state is mutated.
var ErrUnavailable = errors.New("narrator unavailable")

// Client is the thread-scoped surface this engine consumes. Implementations
// must be safe for concurrent use across threads; per-thread serialization is
// the Orchestrator's job.
type Client interface {
	CreateThread(ctx context.Context) (threadID string, err error)
	// ActiveRun returns the most recent run on the thread, if any.
	ActiveRun(ctx context.Context, threadID string) (Run, bool, error)
	AppendMessage(ctx context.Context, threadID, text string) error
	StartRun(ctx context.Context, threadID, narratorID string) (Run, error)
	RunStatus(ctx context.Context, threadID, runID string) (RunStatus, error)
	// LatestReply returns the newest assistant message on the thread.
	LatestReply(ctx context.Context, threadID string) (string, error)
	// DeleteThread is best-effort; callers log failures and move on.
	DeleteThread(ctx context.Context, threadID string) error
}
