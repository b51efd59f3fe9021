package completion

import (
	"regexp"
	"strings"

	"github.com/fgeck/gocmdexec/internal/models"
	"github.com/fgeck/gocmdexec/internal/services/prompt"
)

type match int

const (
	matchNone match = iota
	matchPrompt
	matchSecondary
	matchPager
)

var (
	// Used until the real prompt is known.
	genericPrompt = regexp.MustCompile(`(?:[>#$%]|login:|name:)$`)

	passwordPrompt = regexp.MustCompile(`(?i)pass(?:word|code)\s*:$`)
	// "[default]: " style questions; a bare "[OK]" line is output, not a question.
	inlineQuery = regexp.MustCompile(`(?i)(?:\[[^\[\]]*\]\s*[:?]|\[confirm\]|\((?:y/n|yes/no|y/n/q)\)\s*[:?]?)$`)
	pagerMarker = regexp.MustCompile(`(?i)-{2,}\s*more\s*-{2,}|<-+\s*more\s*-+>|--続きます--|press any key to continue`)
)

// tailOf returns the text after the last newline once chunk is appended to
// the previous tail.
func tailOf(prev, chunk string) string {
	if i := strings.LastIndexByte(chunk, '\n'); i >= 0 {
		return chunk[i+1:]
	}
	return prev + chunk
}

// cleanTail is what a terminal would show on the current line.
func cleanTail(tail string) string {
	if i := strings.LastIndexByte(strings.TrimRight(tail, "\r"), '\r'); i >= 0 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(prompt.Clean(tail))
}

func classify(tail string, prompts *models.PromptSet) match {
	clean := cleanTail(tail)
	if clean == "" {
		return matchNone
	}

	if prompts != nil {
		if prompts.Match(clean) {
			return matchPrompt
		}
	} else if genericPrompt.MatchString(clean) {
		return matchPrompt
	}

	switch {
	case pagerMarker.MatchString(clean):
		return matchPager
	case passwordPrompt.MatchString(clean), inlineQuery.MatchString(clean):
		return matchSecondary
	}
	return matchNone
}
