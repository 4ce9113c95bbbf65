// Package extract parses the narrator's free-form replies into partial state
// deltas. The narrator's output format has drifted across prompt versions, so
// every marker family gets its own extractor and all of them keep working.
//
// Extractors run in a fixed precedence order and only fill fields that are
// still unset: the bracketed inline forms are the newer, authoritative format
// and win over the older ">>" and stats-block forms. Absence of a marker
// leaves the field nil — defaulting is the normalizer's job, not ours.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/grimoire-games/oubliette/pkg/game"
)

var (
	reLocBracket = regexp.MustCompile(`\[위치:\s*([^|\]]+)\|([^|\]]+)\]`)
	reLocArrow   = regexp.MustCompile(`>>\s*위치:\s*([^\n-]+?)\s*-\s*([^\n\[]+)`)

	reInlineStatus = regexp.MustCompile(`\[상태:\s*([^|\]]*)\|([^|\]]*)\|([^|\]]*)\|([^\]]*)\]`)

	reStatsBlock = regexp.MustCompile(`={3,}[^\S\n]*\n([\s\S]*?)\n[^\S\n]*={3,}`)
	reHealth     = regexp.MustCompile(`체력\s*[:：]\s*(\d+)\s*/\s*(\d+)`)
	reStatus     = regexp.MustCompile(`(?m)^\s*상태\s*[:：]\s*(.+)$`)
	reMental     = regexp.MustCompile(`(?m)^\s*정신(?:상태)?\s*[:：]\s*(.+)$`)
	reItems      = regexp.MustCompile(`(?m)^\s*(?:소지품|아이템)\s*[:：]\s*(.+)$`)
	reGold       = regexp.MustCompile(`(?m)^\s*골드\s*[:：]\s*(\d+)`)
	reDiscovered = regexp.MustCompile(`(?m)^\s*발견\s*[:：]\s*(.+)$`)

	reAcquire = regexp.MustCompile(`\[([^\[\]|]+)\]\s*획득`)

	reLeadingInt = regexp.MustCompile(`^\d+`)
)

type extractor func(reply string, d *game.Delta)

// Ordered by precedence: earlier extractors claim fields first, later ones
// only fill what is still unset. Acquisition scanning always appends.
var extractors = []extractor{
	extractBracketLocation,
	extractArrowLocation,
	extractInlineStatus,
	extractStatsBlock,
	extractAcquisitions,
}

// Extract scans a narrator reply for all recognized marker families and
// returns the resulting partial delta. Malformed input never raises: a
// pattern that does not match simply leaves its field unset, and a panic
// anywhere in the scan degrades to an empty delta.
func Extract(reply string) (d game.Delta) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("component", "extract").Interface("panic", r).
				Msg("reply extraction panicked, degrading to empty delta")
			d = game.Delta{}
		}
	}()
	for _, ex := range extractors {
		ex(reply, &d)
	}
	return d
}

func extractBracketLocation(reply string, d *game.Delta) {
	m := reLocBracket.FindStringSubmatch(reply)
	if m == nil {
		return
	}
	setLocation(d, m[1], m[2])
}

func extractArrowLocation(reply string, d *game.Delta) {
	m := reLocArrow.FindStringSubmatch(reply)
	if m == nil {
		return
	}
	setLocation(d, m[1], m[2])
}

func setLocation(d *game.Delta, roomID, name string) {
	if d.Location != nil {
		return
	}
	roomID = strings.TrimSpace(roomID)
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	d.RoomID = &roomID
	d.Location = &name
}

// extractInlineStatus handles the four-field [상태: 체력|소지품|효과|발견] line.
func extractInlineStatus(reply string, d *game.Delta) {
	m := reInlineStatus.FindStringSubmatch(reply)
	if m == nil {
		return
	}
	if d.Health == nil {
		if hp, ok := parseLeadingInt(m[1]); ok {
			d.Health = &hp
		}
	}
	if d.KeyItems == nil {
		if items := meaningful(m[2]); items != "" {
			d.KeyItems = &items
		}
	}
	if d.Status == nil {
		if effects := meaningful(m[3]); effects != "" {
			d.Status = &effects
		}
	}
	d.Discoveries = appendList(d.Discoveries, m[4])
}

func extractStatsBlock(reply string, d *game.Delta) {
	block := reStatsBlock.FindStringSubmatch(reply)
	if block == nil {
		return
	}
	body := block[1]

	if m := reHealth.FindStringSubmatch(body); m != nil {
		if d.Health == nil {
			if hp, ok := parseLeadingInt(m[1]); ok {
				d.Health = &hp
			}
		}
		if d.MaxHealth == nil {
			if max, ok := parseLeadingInt(m[2]); ok {
				d.MaxHealth = &max
			}
		}
	}
	if d.Status == nil {
		if m := reStatus.FindStringSubmatch(body); m != nil {
			if v := meaningful(m[1]); v != "" {
				d.Status = &v
			}
		}
	}
	if d.Mental == nil {
		if m := reMental.FindStringSubmatch(body); m != nil {
			if v := meaningful(m[1]); v != "" {
				d.Mental = &v
			}
		}
	}
	if d.KeyItems == nil {
		if m := reItems.FindStringSubmatch(body); m != nil {
			if v := meaningful(m[1]); v != "" {
				d.KeyItems = &v
			}
		}
	}
	if d.Gold == nil {
		if m := reGold.FindStringSubmatch(body); m != nil {
			if gold, ok := parseLeadingInt(m[1]); ok {
				d.Gold = &gold
			}
		}
	}
	if m := reDiscovered.FindStringSubmatch(body); m != nil {
		d.Discoveries = appendList(d.Discoveries, m[1])
	}
}

// extractAcquisitions scans the whole reply for "[아이템] 획득" occurrences;
// the narrator may report several per turn.
func extractAcquisitions(reply string, d *game.Delta) {
	for _, m := range reAcquire.FindAllStringSubmatch(reply, -1) {
		item := strings.TrimSpace(m[1])
		if item == "" || strings.ContainsAny(item, ":：") {
			continue
		}
		d.Discoveries = appendUnique(d.Discoveries, item)
	}
}

func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if m := reLeadingInt.FindString(s); m != "" {
		s = m
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// meaningful trims a field and drops the "nothing to report" placeholder.
func meaningful(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "없음" || s == "-" {
		return ""
	}
	return s
}

func appendList(list []string, raw string) []string {
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '、' }) {
		if entry := meaningful(part); entry != "" {
			list = appendUnique(list, entry)
		}
	}
	return list
}

func appendUnique(list []string, entry string) []string {
	for _, existing := range list {
		if existing == entry {
			return list
		}
	}
	return append(list, entry)
}
