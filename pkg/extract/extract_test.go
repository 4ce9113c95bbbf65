package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grimoire-games/oubliette/pkg/game"
)

func TestExtractBracketLocation(t *testing.T) {
	d := Extract("당신은 복도로 나왔다. [위치: r3|무너진 복도]")
	require.NotNil(t, d.Location)
	require.Equal(t, "무너진 복도", *d.Location)
	require.Equal(t, "r3", *d.RoomID)
}

func TestExtractArrowLocation(t *testing.T) {
	d := Extract(">> 위치: r7 - 고요한 서고\n횃불이 깜빡인다.")
	require.NotNil(t, d.Location)
	require.Equal(t, "고요한 서고", *d.Location)
	require.Equal(t, "r7", *d.RoomID)
}

func TestExtractLocationPrecedenceBracketWins(t *testing.T) {
	reply := "[위치: A|B]\n무언가 움직였다.\n>> 위치: C - D"
	d := Extract(reply)
	require.Equal(t, "A", *d.RoomID)
	require.Equal(t, "B", *d.Location)

	// Same outcome regardless of ordering inside the text.
	d = Extract(">> 위치: C - D\n...\n[위치: A|B]")
	require.Equal(t, "A", *d.RoomID)
	require.Equal(t, "B", *d.Location)
}

func TestExtractInlineStatusLine(t *testing.T) {
	d := Extract("문이 삐걱이며 열렸다. [상태: 80|열쇠|없음|오래된 문]")
	require.NotNil(t, d.Health)
	require.Equal(t, 80, *d.Health)
	require.NotNil(t, d.KeyItems)
	require.Equal(t, "열쇠", *d.KeyItems)
	require.Nil(t, d.Status, "없음 placeholder leaves the field unset")
	require.Equal(t, []string{"오래된 문"}, d.Discoveries)
}

func TestExtractStatsBlock(t *testing.T) {
	reply := `어둠 속을 더듬으며 나아간다.
====================
체력: 65/100
상태: 부상
정신상태: 불안
소지품: 횃불, 녹슨 단검
골드: 12
발견: 벽의 낙서, 숨겨진 지렛대
====================
멀리서 물 떨어지는 소리가 들린다.`

	d := Extract(reply)
	require.Equal(t, 65, *d.Health)
	require.Equal(t, 100, *d.MaxHealth)
	require.Equal(t, "부상", *d.Status)
	require.Equal(t, "불안", *d.Mental)
	require.Equal(t, "횃불, 녹슨 단검", *d.KeyItems)
	require.Equal(t, 12, *d.Gold)
	require.Equal(t, []string{"벽의 낙서", "숨겨진 지렛대"}, d.Discoveries)
}

func TestExtractInlineStatusWinsOverStatsBlock(t *testing.T) {
	reply := `[상태: 40|밧줄|출혈|없음]
===
체력: 90/100
상태: 정상
===`
	d := Extract(reply)
	require.Equal(t, 40, *d.Health)
	require.Equal(t, "출혈", *d.Status)
	// Max health only appears in the block form, so it still fills in.
	require.Equal(t, 100, *d.MaxHealth)
}

func TestExtractAcquisitions(t *testing.T) {
	reply := "상자 안에서 [녹슨 열쇠] 획득! 바닥에서 [은화 주머니] 획득. 그리고 다시 [녹슨 열쇠] 획득."
	d := Extract(reply)
	require.Equal(t, []string{"녹슨 열쇠", "은화 주머니"}, d.Discoveries)
}

func TestExtractNoMarkersYieldsEmptyDelta(t *testing.T) {
	d := Extract("그저 어둡고 축축한 공기뿐이다. 아무 일도 일어나지 않았다.")
	require.True(t, d.IsZero())
}

func TestExtractMalformedMarkersDegradeSilently(t *testing.T) {
	d := Extract("[위치: 고장난마커 [상태: |||] === 체력: abc/def ===")
	require.Nil(t, d.Location)
	require.Nil(t, d.Health)
}

func TestExtractSummaryFields(t *testing.T) {
	d := ExtractSummary(`{"turn_count": 7, "death_count": 2, "progress": "중반", "can_escape": false, "health": 55}`)
	require.Equal(t, 7, *d.TurnCount)
	require.Equal(t, 2, *d.DeathCount)
	require.Equal(t, "중반", *d.Phase)
	require.False(t, *d.CanEscape)
	require.Equal(t, 55, *d.Health)
}

func TestExtractSummaryAlternateSpellings(t *testing.T) {
	d := ExtractSummary(`{"turnCount": 9, "canEscape": true, "location": "제단의 방"}`)
	require.Equal(t, 9, *d.TurnCount)
	require.True(t, *d.CanEscape)
	require.Equal(t, "제단의 방", *d.Location)
}

func TestExtractSummaryInvalidJSON(t *testing.T) {
	require.True(t, ExtractSummary("턴: 7, 이건 JSON이 아님").IsZero())
	require.True(t, ExtractSummary("").IsZero())
}

func TestSignalsEscape(t *testing.T) {
	sig := Signals("마침내 비밀 통로를 지나 미궁을 빠져나왔다!")
	require.True(t, sig.Escape)
	require.Equal(t, "비밀 통로", sig.EscapeMethod)
	require.False(t, sig.Death)
}

func TestSignalsEscapeDefaultMethod(t *testing.T) {
	sig := Signals("당신은 탈출에 성공했다.")
	require.True(t, sig.Escape)
	require.Equal(t, defaultEscapeMethod, sig.EscapeMethod)
}

func TestSignalsDeathSurvivable(t *testing.T) {
	sig := Signals("함정이 발동했다. 당신은 목숨을 잃었다... 하지만 눈을 뜨자 다시 감방이었다.")
	require.True(t, sig.Death)
	require.Equal(t, "함정", sig.DeathCause)
	require.False(t, sig.GameOver)
}

func TestSignalsDeathGameOver(t *testing.T) {
	sig := Signals("괴물의 이빨이 목을 파고들었다. 당신은 죽었다. === 게임 오버 ===")
	require.True(t, sig.Death)
	require.True(t, sig.GameOver)
	require.Equal(t, "괴물", sig.DeathCause)
}

func TestSignalsAchievement(t *testing.T) {
	sig := Signals("봉인된 문이 열리며 빛이 쏟아진다. [업적: 미궁의 진실] 달성!")
	require.Equal(t, "미궁의 진실", sig.Achievement)
}

func TestSignalsNone(t *testing.T) {
	require.Equal(t, game.Signals{}, Signals("복도는 조용했다."))
}
