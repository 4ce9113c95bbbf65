package game

// Player carries the vitals the narrator reports for the protagonist.
type Player struct {
	Health    int    `json:"health"`
	MaxHealth int    `json:"maxHealth"`
	Status    string `json:"status"`
	Mental    string `json:"mental"`
}

// Location tracks where the player is and everywhere they have been.
// Discovered is append-only and preserves first-seen order.
type Location struct {
	Current    string   `json:"current"`
	RoomID     string   `json:"roomId,omitempty"`
	Discovered []string `json:"discovered"`
}

type Inventory struct {
	KeyItems string `json:"keyItems"`
	Gold     int    `json:"gold"`
}

type Progress struct {
	Phase string            `json:"phase"`
	Flags map[string]string `json:"flags"`
}

// State is the canonical game state for one session. It is always fully
// populated: every section exists with its default sub-fields even when the
// narrator never mentioned them. Only Normalize produces new States.
type State struct {
	Player      Player    `json:"player"`
	Location    Location  `json:"location"`
	Inventory   Inventory `json:"inventory"`
	Progress    Progress  `json:"progress"`
	Discoveries []string  `json:"discoveries"`
}

// DefaultState returns the skeleton a fresh (or corrupt) session starts from.
func DefaultState() *State {
	return &State{
		Player: Player{
			Health:    100,
			MaxHealth: 100,
			Status:    "정상",
			Mental:    "안정",
		},
		Location: Location{
			Current:    "어두운 감방",
			Discovered: []string{"어두운 감방"},
		},
		Inventory: Inventory{
			KeyItems: "없음",
			Gold:     0,
		},
		Progress: Progress{
			Phase: "도입부",
			Flags: map[string]string{},
		},
		Discoveries: []string{},
	}
}

// Clone returns a deep copy so pipeline stages can pass States by value
// without sharing slices or maps.
func (s *State) Clone() *State {
	if s == nil {
		return DefaultState()
	}
	out := *s
	out.Location.Discovered = make([]string, len(s.Location.Discovered))
	copy(out.Location.Discovered, s.Location.Discovered)
	out.Discoveries = make([]string, len(s.Discoveries))
	copy(out.Discoveries, s.Discoveries)
	out.Progress.Flags = make(map[string]string, len(s.Progress.Flags))
	for k, v := range s.Progress.Flags {
		out.Progress.Flags[k] = v
	}
	return &out
}
