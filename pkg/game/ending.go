package game

// EndingType classifies how a session terminated.
type EndingType string

const (
	EndingDeath   EndingType = "death"
	EndingEscape  EndingType = "escape"
	EndingSpecial EndingType = "special"
)

// Ending is the terminal descriptor emitted for the turn that closes (or, for
// a survivable death, merely marks) a session.
type Ending struct {
	Type        EndingType `json:"type"`
	Cause       string     `json:"cause,omitempty"`
	Method      string     `json:"method,omitempty"`
	Achievement string     `json:"achievement,omitempty"`
	TurnCount   int        `json:"turnCount"`
	DeathCount  int        `json:"deathCount"`
	Discoveries []string   `json:"discoveries"`
}

// Signals are the textual cues the extraction layer found in a raw reply.
// Unlike a Delta they do not change state directly; they drive the ending
// machine.
type Signals struct {
	Death      bool
	DeathCause string
	// GameOver marks an explicit, non-survivable game-over narration
	// accompanying a death.
	GameOver     bool
	Escape       bool
	EscapeMethod string
	Achievement  string
}

// Outcome is the result of evaluating one turn against the ending machine.
type Outcome struct {
	TurnCount  int
	DeathCount int
	CanEscape  bool
	// Ending is non-nil when a terminal condition triggered this turn.
	Ending *Ending
	// Completed mirrors whether the session transitions to its terminal
	// state. A survivable death emits no ending and leaves it false.
	Completed bool
}

// AdvanceTurn moves the turn counter forward. The narrator may report an
// explicit higher value in its summary; lower values are never adopted.
func AdvanceTurn(current int, d Delta) int {
	next := current + 1
	if d.TurnCount != nil && *d.TurnCount > next {
		next = *d.TurnCount
	}
	return next
}

// Evaluate runs the ending machine for one turn. It must be called after
// normalization, with the counters already loaded from the session.
//
// Escape requires canEscape; death increments the counter but only completes
// the session when an explicit game-over signal accompanies it. When several
// conditions match the same reply, the most specific wins:
// special > escape > death.
func Evaluate(sig Signals, st *State, turnCount, deathCount, maxTurns int, d Delta) Outcome {
	out := Outcome{
		TurnCount:  AdvanceTurn(turnCount, d),
		DeathCount: deathCount,
	}
	if d.DeathCount != nil && *d.DeathCount > out.DeathCount {
		out.DeathCount = *d.DeathCount
	}
	// canEscape is a pure function of the turn threshold. The narrator's
	// summary may claim otherwise; such claims are never adopted.
	out.CanEscape = out.TurnCount >= maxTurns

	snapshot := func() []string {
		if st == nil {
			return nil
		}
		return append([]string(nil), st.Discoveries...)
	}

	if sig.Death {
		out.DeathCount++
	}

	switch {
	case sig.Achievement != "":
		out.Completed = true
		out.Ending = &Ending{
			Type:        EndingSpecial,
			Achievement: sig.Achievement,
			TurnCount:   out.TurnCount,
			DeathCount:  out.DeathCount,
			Discoveries: snapshot(),
		}
	case sig.Escape && out.CanEscape:
		out.Completed = true
		out.Ending = &Ending{
			Type:        EndingEscape,
			Method:      sig.EscapeMethod,
			TurnCount:   out.TurnCount,
			DeathCount:  out.DeathCount,
			Discoveries: snapshot(),
		}
	case sig.Death && sig.GameOver:
		out.Completed = true
		out.Ending = &Ending{
			Type:        EndingDeath,
			Cause:       sig.DeathCause,
			TurnCount:   out.TurnCount,
			DeathCount:  out.DeathCount,
			Discoveries: snapshot(),
		}
	}

	return out
}
