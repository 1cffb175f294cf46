// Package chain はオンチェーンのフォーセット状態の読み取りと
// クールダウン判定を提供する。
package chain

// CooldownSeconds は請求間の最短間隔（秒）。コントラクト側の定数と一致する。
const CooldownSeconds = 86400

// CooldownState はウォレットの請求可否状態を表す。
type CooldownState string

const (
	StateNeverClaimed CooldownState = "never_claimed"
	StateCoolingDown  CooldownState = "cooling_down"
	StateEligible     CooldownState = "eligible"
)

// CooldownStatus はクールダウン判定の結果。
type CooldownStatus struct {
	State CooldownState
	// NextEligibleAt はクールダウン中のみ設定される。
	// この時刻を厳密に過ぎた後に請求可能になる（ちょうど24時間経過では不可）。
	NextEligibleAt int64
}

// EvaluateCooldown は最終請求時刻と現在時刻（いずれもunix秒）から
// 請求可否を判定する純関数。コントラクトの判定式
// now > lastClaim + 86400 と同一の境界を持つ。
func EvaluateCooldown(lastClaim, now int64) CooldownStatus {
	if lastClaim <= 0 {
		return CooldownStatus{State: StateNeverClaimed}
	}
	if now > lastClaim+CooldownSeconds {
		return CooldownStatus{State: StateEligible}
	}
	return CooldownStatus{
		State:          StateCoolingDown,
		NextEligibleAt: lastClaim + CooldownSeconds,
	}
}
