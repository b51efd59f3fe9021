package models

import (
	"strings"
	"unicode"
)

// prohibitedFileChars are removed from a prompt before it becomes part of a
// log filename.
const prohibitedFileChars = `[]<>#%$:;~/\*?"|`

// PromptSet is the detected shell prompt and its sibling variants for other
// privilege or configuration modes. It is immutable once built.
type PromptSet struct {
	Primary    string
	Siblings   []string
	Root       string // primary without terminator and mode suffix
	Terminator byte
	Modal      bool // device-style prompt where Root(<mode>)# is also valid
}

// Match reports whether tail is one of the prompts in the set.
func (p *PromptSet) Match(tail string) bool {
	if p == nil {
		return false
	}
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return false
	}
	if tail == p.Primary {
		return true
	}
	for _, s := range p.Siblings {
		if tail == s {
			return true
		}
	}
	if p.Modal && p.Root != "" && strings.HasPrefix(tail, p.Root+"(") {
		return strings.HasSuffix(tail, ")#") || strings.HasSuffix(tail, ")>")
	}
	return false
}

// All returns the primary prompt followed by its siblings.
func (p *PromptSet) All() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Siblings)+1)
	out = append(out, p.Primary)
	return append(out, p.Siblings...)
}

// FileStem is the primary prompt with filesystem-prohibited characters and
// whitespace removed.
func (p *PromptSet) FileStem() string {
	if p == nil {
		return ""
	}
	return SanitizeFileComponent(p.Primary)
}

// SanitizeFileComponent drops characters that are unsafe in a log filename.
func SanitizeFileComponent(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(prohibitedFileChars, r) || unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
