package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool { return &v }

func TestAdvanceTurnMonotonic(t *testing.T) {
	require.Equal(t, 2, AdvanceTurn(1, Delta{}))
	require.Equal(t, 9, AdvanceTurn(3, Delta{TurnCount: intPtr(9)}))
	// Lower narrator values are never adopted.
	require.Equal(t, 6, AdvanceTurn(5, Delta{TurnCount: intPtr(2)}))
}

func TestEvaluateCanEscapeFlips(t *testing.T) {
	st := DefaultState()

	out := Evaluate(Signals{}, st, 14, 0, 16, Delta{})
	require.Equal(t, 15, out.TurnCount)
	require.False(t, out.CanEscape)

	out = Evaluate(Signals{}, st, 15, 0, 16, Delta{})
	require.Equal(t, 16, out.TurnCount)
	require.True(t, out.CanEscape)
	require.Nil(t, out.Ending)
	require.False(t, out.Completed)
}

func TestEvaluateEscapeRequiresCanEscape(t *testing.T) {
	st := DefaultState()
	sig := Signals{Escape: true, EscapeMethod: "비밀 통로"}

	out := Evaluate(sig, st, 4, 0, 16, Delta{})
	require.Nil(t, out.Ending)

	out = Evaluate(sig, st, 16, 0, 16, Delta{})
	require.NotNil(t, out.Ending)
	require.Equal(t, EndingEscape, out.Ending.Type)
	require.Equal(t, "비밀 통로", out.Ending.Method)
	require.True(t, out.Completed)
}

func TestEvaluateIgnoresSummaryCanEscapeClaim(t *testing.T) {
	st := DefaultState()
	sig := Signals{Escape: true, EscapeMethod: "비밀 통로"}

	// A summary claiming canEscape before the turn threshold must not
	// open the escape ending early.
	out := Evaluate(sig, st, 2, 0, 16, Delta{CanEscape: boolPtr(true)})
	require.False(t, out.CanEscape)
	require.Nil(t, out.Ending)
	require.False(t, out.Completed)
}

func TestEvaluateSurvivableDeathIncrementsCounterOnly(t *testing.T) {
	st := DefaultState()
	out := Evaluate(Signals{Death: true, DeathCause: "함정"}, st, 5, 1, 16, Delta{})
	require.Equal(t, 2, out.DeathCount)
	require.Nil(t, out.Ending)
	require.False(t, out.Completed)
}

func TestEvaluateGameOverDeathCompletes(t *testing.T) {
	st := DefaultState()
	st.Discoveries = []string{"녹슨 열쇠"}

	out := Evaluate(Signals{Death: true, GameOver: true, DeathCause: "괴물"}, st, 5, 0, 16, Delta{})
	require.Equal(t, 1, out.DeathCount)
	require.True(t, out.Completed)
	require.NotNil(t, out.Ending)
	require.Equal(t, EndingDeath, out.Ending.Type)
	require.Equal(t, "괴물", out.Ending.Cause)
	require.Equal(t, 6, out.Ending.TurnCount)
	require.Equal(t, []string{"녹슨 열쇠"}, out.Ending.Discoveries)
}

func TestEvaluatePriorityOrder(t *testing.T) {
	st := DefaultState()
	sig := Signals{
		Death:        true,
		GameOver:     true,
		Escape:       true,
		EscapeMethod: "정문",
		Achievement:  "미궁의 주인",
	}

	out := Evaluate(sig, st, 16, 0, 16, Delta{})
	require.NotNil(t, out.Ending)
	require.Equal(t, EndingSpecial, out.Ending.Type)
	require.Equal(t, "미궁의 주인", out.Ending.Achievement)
	// Death still counted even though the special ending won.
	require.Equal(t, 1, out.DeathCount)

	sig.Achievement = ""
	out = Evaluate(sig, st, 16, 0, 16, Delta{})
	require.Equal(t, EndingEscape, out.Ending.Type)
}

func TestEvaluateAdoptsHigherSummaryCounters(t *testing.T) {
	st := DefaultState()
	out := Evaluate(Signals{}, st, 3, 1, 16, Delta{DeathCount: intPtr(4)})
	require.Equal(t, 4, out.DeathCount)

	// Lower summary counters are ignored.
	out = Evaluate(Signals{}, st, 3, 5, 16, Delta{DeathCount: intPtr(1)})
	require.Equal(t, 5, out.DeathCount)
}

func TestStoryLookupAndFallback(t *testing.T) {
	title, body := Story(Ending{Type: EndingEscape, Method: "비밀 통로", TurnCount: 17}, "민준")
	require.Equal(t, "숨겨진 길", title)
	require.Contains(t, body, "민준")
	require.Contains(t, body, "17")

	title, body = Story(Ending{Type: EndingEscape, Method: "하수구", TurnCount: 16, DeathCount: 2}, "")
	require.Equal(t, "빛을 향해", title)
	require.Contains(t, body, "이름 없는 모험가")

	title, body = Story(Ending{Type: EndingSpecial, Achievement: "모든 비밀 발견", TurnCount: 12}, "민준")
	require.Equal(t, "기록되지 않은 결말", title)
	require.Contains(t, body, "모든 비밀 발견")
}
