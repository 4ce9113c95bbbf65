package game

import (
	_ "embed"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed stories.yaml
var storiesYAML []byte

type storyEntry struct {
	Title string `yaml:"title"`
	Story string `yaml:"story"`
}

type storyTable map[string]map[string]storyEntry

var stories = mustLoadStories()

func mustLoadStories() storyTable {
	t := storyTable{}
	if err := yaml.Unmarshal(storiesYAML, &t); err != nil {
		panic(errors.Wrap(err, "game: parse embedded story table"))
	}
	return t
}

// Story renders the localized ending narrative for a terminal descriptor.
// The table is keyed by category plus the variant-specific field (cause,
// method or achievement); unknown variants fall back to the category default.
func Story(e Ending, playerName string) (title string, body string) {
	category, ok := stories[string(e.Type)]
	if !ok {
		category = stories[string(EndingDeath)]
	}

	key := ""
	switch e.Type {
	case EndingDeath:
		key = e.Cause
	case EndingEscape:
		key = e.Method
	case EndingSpecial:
		key = e.Achievement
	}

	entry, ok := category[key]
	if !ok {
		entry = category["default"]
	}

	if strings.TrimSpace(playerName) == "" {
		playerName = "이름 없는 모험가"
	}
	replacer := strings.NewReplacer(
		"{player}", playerName,
		"{turns}", strconv.Itoa(e.TurnCount),
		"{deaths}", strconv.Itoa(e.DeathCount),
		"{cause}", e.Cause,
		"{method}", e.Method,
		"{achievement}", e.Achievement,
	)
	return replacer.Replace(entry.Title), replacer.Replace(entry.Story)
}
