package extract

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/grimoire-games/oubliette/pkg/game"
)

// Field spellings the narrator has used across prompt versions.
var (
	summaryTurnKeys   = []string{"turn_count", "turnCount", "turn"}
	summaryDeathKeys  = []string{"death_count", "deathCount", "deaths"}
	summaryPhaseKeys  = []string{"progress", "phase"}
	summaryEscapeKeys = []string{"can_escape", "canEscape", "escape"}
	summaryHealthKeys = []string{"health", "hp"}
	summaryLocKeys    = []string{"location", "current_location"}
)

// ExtractSummary reads the explicit numeric/boolean fields of a
// narrator-supplied JSON summary. It shares Delta semantics with Extract so
// the API path and the socket path stay on the same primitives. Invalid JSON
// yields an empty delta.
func ExtractSummary(jsonText string) game.Delta {
	d := game.Delta{}
	jsonText = strings.TrimSpace(jsonText)
	if jsonText == "" || !gjson.Valid(jsonText) {
		return d
	}

	if r, ok := firstResult(jsonText, summaryTurnKeys); ok && r.Type == gjson.Number {
		v := int(r.Int())
		d.TurnCount = &v
	}
	if r, ok := firstResult(jsonText, summaryDeathKeys); ok && r.Type == gjson.Number {
		v := int(r.Int())
		d.DeathCount = &v
	}
	if r, ok := firstResult(jsonText, summaryPhaseKeys); ok && r.Type == gjson.String {
		v := strings.TrimSpace(r.String())
		if v != "" {
			d.Phase = &v
		}
	}
	if r, ok := firstResult(jsonText, summaryEscapeKeys); ok && r.IsBool() {
		v := r.Bool()
		d.CanEscape = &v
	}
	if r, ok := firstResult(jsonText, summaryHealthKeys); ok && r.Type == gjson.Number {
		v := int(r.Int())
		d.Health = &v
	}
	if r, ok := firstResult(jsonText, summaryLocKeys); ok && r.Type == gjson.String {
		v := strings.TrimSpace(r.String())
		if v != "" {
			d.Location = &v
		}
	}
	return d
}

func firstResult(jsonText string, keys []string) (gjson.Result, bool) {
	for _, key := range keys {
		if r := gjson.Get(jsonText, key); r.Exists() {
			return r, true
		}
	}
	return gjson.Result{}, false
}
