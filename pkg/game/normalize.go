package game

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Normalize merges a delta onto the current state and returns a new state
// that always satisfies the session invariants:
//
//   - every section present with its default sub-fields,
//   - numeric fields clamped to >= 0,
//   - discovered locations and discoveries append-only, no duplicates,
//     first-seen order preserved.
//
// Delta fields win; unset fields retain the prior value. A nil or corrupt
// current state falls back to the default skeleton. Normalize is pure apart
// from anomaly logging and never mutates its inputs.
func Normalize(cur *State, d Delta) *State {
	next := cur.Clone()
	if next.Progress.Flags == nil {
		next.Progress.Flags = map[string]string{}
	}

	if d.MaxHealth != nil {
		next.Player.MaxHealth = clampNonNegative("player.maxHealth", *d.MaxHealth)
	}
	if d.Health != nil {
		next.Player.Health = clampNonNegative("player.health", *d.Health)
	}
	if next.Player.MaxHealth > 0 && next.Player.Health > next.Player.MaxHealth {
		next.Player.Health = next.Player.MaxHealth
	}
	if d.Status != nil && strings.TrimSpace(*d.Status) != "" {
		next.Player.Status = strings.TrimSpace(*d.Status)
	}
	if d.Mental != nil && strings.TrimSpace(*d.Mental) != "" {
		next.Player.Mental = strings.TrimSpace(*d.Mental)
	}

	if d.RoomID != nil && strings.TrimSpace(*d.RoomID) != "" {
		next.Location.RoomID = strings.TrimSpace(*d.RoomID)
	}
	if d.Location != nil {
		if loc := strings.TrimSpace(*d.Location); loc != "" {
			next.Location.Current = loc
			next.Location.Discovered = appendUnique(next.Location.Discovered, loc)
		}
	}

	if d.KeyItems != nil && strings.TrimSpace(*d.KeyItems) != "" {
		next.Inventory.KeyItems = strings.TrimSpace(*d.KeyItems)
	}
	if d.Gold != nil {
		next.Inventory.Gold = clampNonNegative("inventory.gold", *d.Gold)
	}

	if d.Phase != nil && strings.TrimSpace(*d.Phase) != "" {
		next.Progress.Phase = strings.TrimSpace(*d.Phase)
	}
	for k, v := range d.Flags {
		next.Progress.Flags[k] = v
	}

	for _, disc := range d.Discoveries {
		if disc = strings.TrimSpace(disc); disc != "" {
			next.Discoveries = appendUnique(next.Discoveries, disc)
		}
	}

	return next
}

func clampNonNegative(field string, v int) int {
	if v < 0 {
		log.Warn().Str("component", "game").Str("field", field).Int("value", v).
			Msg("delta proposed negative value, clamping to zero")
		return 0
	}
	return v
}

func appendUnique(list []string, entry string) []string {
	for _, existing := range list {
		if existing == entry {
			return list
		}
	}
	return append(list, entry)
}
