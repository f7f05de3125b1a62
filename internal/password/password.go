// Package password はサインアップ画面のパスワード強度の目安と、登録を許可する最低要件の検査を提供する。
package password

import "github.com/hitoshi/warren/internal/model"

// Level はパスワード強度の段階。
type Level string

const (
	LevelWeak   Level = "Weak"
	LevelMedium Level = "Medium"
	LevelStrong Level = "Strong"
)

// MaxScore はEstimateが返すスコアの上限。
const MaxScore = 5

// Strength はパスワード強度の推定結果。表示専用で、登録可否には使わない。
type Strength struct {
	Score int    `json:"score"`
	Level Level  `json:"level"`
	Color string `json:"color"`
}

var levelColors = map[Level]string{
	LevelWeak:   "#ef4444",
	LevelMedium: "#f59e0b",
	LevelStrong: "#22c55e",
}

type traits struct {
	length  int
	digit   bool
	special bool
	upper   bool
	lower   bool
}

// inspect は文字種をASCIIで判定する。ASCII英数字以外はすべて記号として数える。
func inspect(pw string) traits {
	var t traits
	for _, r := range pw {
		t.length++
		switch {
		case '0' <= r && r <= '9':
			t.digit = true
		case 'A' <= r && r <= 'Z':
			t.upper = true
		case 'a' <= r && r <= 'z':
			t.lower = true
		default:
			t.special = true
		}
	}
	return t
}

// Estimate は独立した5つの条件の成立数でスコアを付ける。
// 8文字以上、12文字以上、数字を含む、英数字以外を含む、大文字と小文字の両方を含む。
// 1以下はWeak、2〜3はMedium、4以上はStrong。
func Estimate(pw string) Strength {
	t := inspect(pw)
	score := 0
	for _, ok := range []bool{t.length >= 8, t.length >= 12, t.digit, t.special, t.upper && t.lower} {
		if ok {
			score++
		}
	}

	level := LevelWeak
	switch {
	case score >= 4:
		level = LevelStrong
	case score >= 2:
		level = LevelMedium
	}
	return Strength{Score: score, Level: level, Color: levelColors[level]}
}

// 最低要件を満たさない場合のメッセージ
const (
	ReasonTooShort  = "Password must be at least 8 characters"
	ReasonNoDigit   = "Password must contain at least one number"
	ReasonNoSpecial = "Password must contain at least one special character"
	ReasonMismatch  = "Passwords do not match"
)

// CheckRequirements はサインアップ時の最低要件を検査する。
// 満たさない要件はすべてまとめて1つのValidationErrorで返す。
func CheckRequirements(pw, confirm string) error {
	t := inspect(pw)
	var reasons []string
	if t.length < 8 {
		reasons = append(reasons, ReasonTooShort)
	}
	if !t.digit {
		reasons = append(reasons, ReasonNoDigit)
	}
	if !t.special {
		reasons = append(reasons, ReasonNoSpecial)
	}
	if pw != confirm {
		reasons = append(reasons, ReasonMismatch)
	}
	if len(reasons) > 0 {
		return model.NewValidationError(reasons...)
	}
	return nil
}
