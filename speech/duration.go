package speech

import "strings"

// DefaultWordsPerMinute is the assumed narration pace for duration estimates
const DefaultWordsPerMinute = 150

// EstimateDuration approximates playback length in seconds from word count
// at a fixed words-per-minute pace. This is a heuristic, not derived from
// the synthesized audio. wpm <= 0 falls back to DefaultWordsPerMinute.
func EstimateDuration(text string, wpm int) int64 {
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	seconds := (words*60 + wpm - 1) / wpm
	return int64(seconds)
}
