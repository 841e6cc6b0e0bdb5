package sample

import (
	"math"
	"unicode/utf16"
)

// minScoreKeyLength is the shortest key that is hashed as-is; shorter keys
// are repeated until they reach it because short strings hash poorly.
const minScoreKeyLength = 8

// maxScore is the largest score below 100.
var maxScore = math.Nextafter(100, 0)

// Score maps a key onto [0, 100) with a djb2-style hash over the key's UTF-16
// code units, so the same key always lands in the same place on every client
// and on the backend. The empty key scores 0.
func Score(key string) float64 {
	if key == "" {
		return 0
	}
	units := utf16.Encode([]rune(key))
	for len(units) < minScoreKeyLength {
		units = append(units, units...)
	}

	hash := int32(5381)
	for _, u := range units {
		hash = hash*33 + int32(u)
	}
	return hashScore(hash)
}

// hashScore is |hash| / MaxInt32 * 100. MinInt32 and MaxInt32 would land on
// or past 100 and are clamped just below it.
func hashScore(hash int32) float64 {
	return math.Min(math.Abs(float64(hash))/math.MaxInt32*100, maxScore)
}
