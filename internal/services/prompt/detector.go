// Package prompt infers a shell prompt from the output a remote host prints
// while it waits for input.
package prompt

import (
	"regexp"
	"slices"
	"strings"

	"github.com/fgeck/gocmdexec/internal/models"
)

// Terminators are the characters a prompt may end with, in priority order.
const Terminators = "$>#@%/~"

// Strategy infers a prompt set from accumulated output. A false result is
// transient: the caller retries on more output.
type Strategy func(text string) (*models.PromptSet, bool)

// Default is the heuristic used unless another strategy is configured.
func Default(text string) (*models.PromptSet, bool) {
	return Detect(text)
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b[()][0-9A-Za-z]|\x1b[=>78]`)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	if !strings.ContainsRune(s, '\x1b') {
		return s
	}
	return ansiPattern.ReplaceAllString(s, "")
}

// Clean removes escape sequences and control characters other than tab.
func Clean(s string) string {
	s = StripANSI(s)
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// Detect looks at the last non-empty line of text, falling back to the one
// before it, and returns the prompt set it ends with.
func Detect(text string) (*models.PromptSet, bool) {
	lines := strings.Split(text, "\n")
	tried := 0
	for i := len(lines) - 1; i >= 0 && tried < 2; i-- {
		line := visible(lines[i])
		if strings.TrimSpace(line) == "" {
			continue
		}
		tried++
		if ps, ok := fromLine(line); ok {
			return ps, true
		}
		// A login or password question is never preceded by a usable prompt.
		if strings.HasSuffix(strings.TrimSpace(line), ":") {
			return nil, false
		}
	}
	return nil, false
}

// visible returns what a terminal would show for a line: text overwritten by
// a carriage return is dropped.
func visible(line string) string {
	line = strings.TrimRight(line, "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	return Clean(line)
}

func fromLine(line string) (*models.PromptSet, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, false
	}
	if strings.IndexByte(Terminators, trimmed[len(trimmed)-1]) < 0 {
		return nil, false
	}
	return Build(trimmed), true
}

// Build derives the sibling prompts for a primary prompt ending in one of the
// terminators.
func Build(primary string) *models.PromptSet {
	ps := &models.PromptSet{Primary: primary}
	if primary == "" {
		return ps
	}

	ps.Terminator = primary[len(primary)-1]
	base := primary[:len(primary)-1]
	ps.Root = base

	var family []string
	switch ps.Terminator {
	case '>', '#':
		ps.Modal = true
		if i := strings.LastIndexByte(base, '('); i > 0 && strings.HasSuffix(base, ")") {
			ps.Root = base[:i]
		}
		family = []string{ps.Root + ">", ps.Root + "#", ps.Root + "(config)#"}
	case '$', '%':
		family = []string{base + "#"}
	}

	for _, s := range family {
		if s != primary && !slices.Contains(ps.Siblings, s) {
			ps.Siblings = append(ps.Siblings, s)
		}
	}
	return ps
}
