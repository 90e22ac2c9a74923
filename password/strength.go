package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Score bounds of [ScoreStrength].
const (
	MaxScore    = 5
	StrongScore = 3
)

const (
	lengthBonusRunes = 12
	minRecommended   = 8
)

var weakPatterns = []string{
	"password",
	"123456",
	"qwerty",
	"letmein",
	"admin",
	"welcome",
	"abc123",
	"111111",
	"iloveyou",
}

// Strength is the result of [ScoreStrength].
type Strength struct {
	Score    int      `json:"score"`
	IsStrong bool     `json:"isStrong"`
	Feedback []string `json:"feedback,omitempty"`
}

// ScoreStrength rates plain on a 0..5 scale: one point per character class
// (lower, upper, digit, symbol), one for length >= 12, minus one for a run of
// three or more identical characters and minus two for a well-known weak
// pattern. IsStrong is Score >= 3.
func ScoreStrength(plain string) Strength {
	var (
		lower, upper, digit, symbol bool
		feedback                    []string
	)
	for _, r := range plain {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			symbol = true
		}
	}

	score := 0
	for _, class := range []struct {
		present bool
		hint    string
	}{
		{lower, "Add lowercase letters"},
		{upper, "Add uppercase letters"},
		{digit, "Add numbers"},
		{symbol, "Add special characters"},
	} {
		if class.present {
			score++
		} else {
			feedback = append(feedback, class.hint)
		}
	}

	n := utf8.RuneCountInString(plain)
	switch {
	case n >= lengthBonusRunes:
		score++
	case n < minRecommended:
		feedback = append(feedback, "Use at least 8 characters")
	default:
		feedback = append(feedback, "Use 12 or more characters for a stronger password")
	}

	if hasRepeatedRun(plain, 3) {
		score--
		feedback = append(feedback, "Avoid repeating the same character")
	}

	lowered := strings.ToLower(plain)
	for _, p := range weakPatterns {
		if strings.Contains(lowered, p) {
			score -= 2
			feedback = append(feedback, "Avoid common words and sequences")
			break
		}
	}

	score = max(0, min(score, MaxScore))
	return Strength{
		Score:    score,
		IsStrong: score >= StrongScore,
		Feedback: feedback,
	}
}

func hasRepeatedRun(s string, run int) bool {
	var (
		prev  rune
		count int
	)
	for i, r := range s {
		if i > 0 && r == prev {
			count++
		} else {
			count = 1
		}
		if count >= run {
			return true
		}
		prev = r
	}
	return false
}
