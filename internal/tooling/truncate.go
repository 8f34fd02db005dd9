package tooling

import (
	"fmt"
	"unicode/utf8"
)

// DefaultResultCap is the character budget applied to tool results before
// they re-enter the conversation.
const DefaultResultCap = 20000

// TruncateResult caps output at maxChars bytes and appends a
// machine-readable notice carrying the original length, so no data vanishes
// silently. The cut lands on a rune boundary; the notice counts characters.
func TruncateResult(output string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultResultCap
	}
	if len(output) <= maxChars {
		return output
	}

	cut := maxChars
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	kept := output[:cut]
	return kept + fmt.Sprintf(
		"\n[truncated: showing %d of %d characters; re-run the tool with narrower parameters for the rest]",
		utf8.RuneCountInString(kept), utf8.RuneCountInString(output))
}
