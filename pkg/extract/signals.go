package extract

import (
	"regexp"
	"strings"

	"github.com/grimoire-games/oubliette/pkg/game"
)

// Some ending cues are purely textual: the narrator describes a death or an
// exit in prose without any structured marker. Detection is keyword driven
// with a default category when no specific pattern matches.

var escapeMarkers = []string{
	"탈출에 성공", "탈출 성공", "탈출했다", "탈출했습니다",
	"밖으로 나왔다", "미궁을 빠져나", "비밀 통로",
}

// Ordered: more specific methods first.
var escapeMethods = []string{"비밀 통로", "하수구", "창문", "열쇠", "정문"}

const defaultEscapeMethod = "출구"

var deathMarkers = []string{
	"사망했", "죽었다", "죽고 말았", "목숨을 잃", "숨을 거두", "쓰러져 다시 일어나지 못",
}

var deathCauses = []string{"함정", "괴물", "독", "추락", "굶주림"}

const defaultDeathCause = "알 수 없는 원인"

var gameOverMarkers = []string{"게임 오버", "게임오버", "GAME OVER", "Game Over"}

var reAchievement = regexp.MustCompile(`\[업적:\s*([^\]]+)\]`)

// Signals reads the textual ending cues out of a raw reply. It never errors;
// text with no cues yields the zero value.
func Signals(reply string) game.Signals {
	sig := game.Signals{}

	if containsAny(reply, deathMarkers) {
		sig.Death = true
		sig.DeathCause = firstMatch(reply, deathCauses, defaultDeathCause)
		sig.GameOver = containsAny(reply, gameOverMarkers)
	}

	if containsAny(reply, escapeMarkers) {
		sig.Escape = true
		sig.EscapeMethod = firstMatch(reply, escapeMethods, defaultEscapeMethod)
	}

	if m := reAchievement.FindStringSubmatch(reply); m != nil {
		sig.Achievement = strings.TrimSpace(m[1])
	}

	return sig
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func firstMatch(text string, patterns []string, fallback string) string {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return p
		}
	}
	return fallback
}
