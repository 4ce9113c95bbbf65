package game

// Delta is a partial, unvalidated proposal of state changes extracted from a
// single narrator reply. Every field is optional; nil means "the reply said
// nothing about this". Deltas are never persisted, only merged through
// Normalize.
type Delta struct {
	Health    *int
	MaxHealth *int
	Status    *string
	Mental    *string

	RoomID   *string
	Location *string

	KeyItems *string
	Gold     *int

	Phase *string
	Flags map[string]string

	Discoveries []string

	// Signals the narrator may report in its JSON turn summary. They are
	// advisory: counters never move backwards regardless of what is proposed.
	TurnCount  *int
	DeathCount *int
	CanEscape  *bool
}

// MergeDelta overlays two deltas extracted from the same reply: fields the
// primary (marker) extraction claimed win, the fallback (summary) extraction
// fills what is left. Discovery lists concatenate without duplicates.
func MergeDelta(primary, fallback Delta) Delta {
	out := primary
	if out.Health == nil {
		out.Health = fallback.Health
	}
	if out.MaxHealth == nil {
		out.MaxHealth = fallback.MaxHealth
	}
	if out.Status == nil {
		out.Status = fallback.Status
	}
	if out.Mental == nil {
		out.Mental = fallback.Mental
	}
	if out.RoomID == nil {
		out.RoomID = fallback.RoomID
	}
	if out.Location == nil {
		out.Location = fallback.Location
	}
	if out.KeyItems == nil {
		out.KeyItems = fallback.KeyItems
	}
	if out.Gold == nil {
		out.Gold = fallback.Gold
	}
	if out.Phase == nil {
		out.Phase = fallback.Phase
	}
	for k, v := range fallback.Flags {
		if out.Flags == nil {
			out.Flags = map[string]string{}
		}
		if _, ok := out.Flags[k]; !ok {
			out.Flags[k] = v
		}
	}
	for _, disc := range fallback.Discoveries {
		out.Discoveries = appendUnique(out.Discoveries, disc)
	}
	if out.TurnCount == nil {
		out.TurnCount = fallback.TurnCount
	}
	if out.DeathCount == nil {
		out.DeathCount = fallback.DeathCount
	}
	if out.CanEscape == nil {
		out.CanEscape = fallback.CanEscape
	}
	return out
}

// IsZero reports whether the delta proposes nothing at all.
func (d Delta) IsZero() bool {
	return d.Health == nil && d.MaxHealth == nil && d.Status == nil && d.Mental == nil &&
		d.RoomID == nil && d.Location == nil && d.KeyItems == nil && d.Gold == nil &&
		d.Phase == nil && len(d.Flags) == 0 && len(d.Discoveries) == 0 &&
		d.TurnCount == nil && d.DeathCount == nil && d.CanEscape == nil
}
