// Package sanitize turns raw clipboard text into lines a speech engine can
// read aloud.
package sanitize

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrRejected is returned when text fails the configured filters.
var ErrRejected = errors.New("text rejected by sanitizer")

const (
	rubyPattern      = `([一-龠々]+)[（(]([ぁ-んァ-ンー]+)[）)]`
	fencePattern     = "(?s)```.*?```"
	imagePattern     = `!\[[^\]\n]*\]\([^)\n]*\)`
	linkPattern      = `\[([^\]\n]*)\]\([^)\n]*\)`
	noisePattern     = "[{}#`|>\\[\\]]"
	urlPattern       = `https?://[\w/:%#$&?()~.=+\-]+`
	rulePattern      = `[*=\-]{2,}`
	spacePattern     = `[ \t\f\v\x{00A0}\x{3000}]+`
	maxPasses        = 4
	sentenceEndRunes = "。！？"
)

// Replacement is one literal dictionary substitution.
type Replacement struct {
	Term    string
	Reading string
}

// Options configures a Sanitizer.
type Options struct {
	// Dictionary entries are applied in order.
	Dictionary      []Replacement
	RequireHiragana bool
	MinLength       int
	// SplitSentences additionally breaks lines after 。！？ so each line
	// is one synthesis request.
	SplitSentences bool
}

// Sanitizer is immutable after construction and safe for concurrent use.
type Sanitizer struct {
	opts Options

	ruby  *regexp.Regexp
	fence *regexp.Regexp
	image *regexp.Regexp
	link  *regexp.Regexp
	noise *regexp.Regexp
	url   *regexp.Regexp
	rule  *regexp.Regexp
	space *regexp.Regexp
}

// New compiles the cleanup patterns.
func New(opts Options) *Sanitizer {
	dict := make([]Replacement, 0, len(opts.Dictionary))
	for _, r := range opts.Dictionary {
		if r.Term != "" {
			dict = append(dict, r)
		}
	}
	opts.Dictionary = dict
	return &Sanitizer{
		opts:  opts,
		ruby:  regexp.MustCompile(rubyPattern),
		fence: regexp.MustCompile(fencePattern),
		image: regexp.MustCompile(imagePattern),
		link:  regexp.MustCompile(linkPattern),
		noise: regexp.MustCompile(noisePattern),
		url:   regexp.MustCompile(urlPattern),
		rule:  regexp.MustCompile(rulePattern),
		space: regexp.MustCompile(spacePattern),
	}
}

// Clean returns the non-empty lines of text ready for synthesis, or
// ErrRejected.
func (s *Sanitizer) Clean(text string) ([]string, error) {
	cleaned := s.Normalize(text)

	if s.opts.RequireHiragana && !ContainsHiragana(cleaned) {
		return nil, ErrRejected
	}

	lines := s.split(cleaned)
	total := 0
	for _, line := range lines {
		total += utf8.RuneCountInString(line)
	}
	if len(lines) == 0 || total < s.opts.MinLength {
		return nil, ErrRejected
	}
	return lines, nil
}

// Normalize applies the text transformations without filtering or
// splitting. The gloss collapse and dictionary run exactly once, in order.
// Stripping can expose new matches ("ht--tp://"), so only the strip passes
// repeat until the text is stable.
func (s *Sanitizer) Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = s.ruby.ReplaceAllString(text, "$2")
	for _, r := range s.opts.Dictionary {
		text = strings.ReplaceAll(text, r.Term, r.Reading)
	}

	for i := 0; i < maxPasses; i++ {
		next := s.strip(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func (s *Sanitizer) strip(text string) string {
	text = s.fence.ReplaceAllString(text, "")
	text = s.image.ReplaceAllString(text, "")
	text = s.link.ReplaceAllString(text, "$1")
	text = s.noise.ReplaceAllString(text, "")
	text = s.url.ReplaceAllString(text, "")

	text = s.rule.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(s.space.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (s *Sanitizer) split(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if !s.opts.SplitSentences {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
			continue
		}
		out = append(out, splitSentences(line)...)
	}
	return out
}

func splitSentences(line string) []string {
	var out []string
	start := 0
	for i, r := range line {
		if !strings.ContainsRune(sentenceEndRunes, r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		if part := strings.TrimSpace(line[start:end]); part != "" {
			out = append(out, part)
		}
		start = end
	}
	if part := strings.TrimSpace(line[start:]); part != "" {
		out = append(out, part)
	}
	return out
}

// ContainsHiragana reports whether any rune falls in the Hiragana block.
func ContainsHiragana(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Hiragana, r) {
			return true
		}
	}
	return false
}
