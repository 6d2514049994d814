package archive

import (
	"regexp"
	"strings"
)

const (
	noTitle       = "NoTitle"
	maxTitleRunes = 20
)

var (
	nonWord           = regexp.MustCompile(`[^\p{L}\p{N}_]`)
	nonWordOrFullStop = regexp.MustCompile(`[^\p{L}\p{N}_。]`)
)

// titleSource joins the non-blank lines of text. A leading stage direction
// line in parentheses is skipped.
func titleSource(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > 0 && (strings.HasPrefix(lines[0], "（") || strings.HasPrefix(lines[0], "(")) {
		lines = lines[1:]
	}
	source := strings.Join(lines, "")
	if source == "" {
		return noTitle
	}
	return source
}

// TagTitle is the title written into the file's metadata.
func TagTitle(text string) string {
	title := nonWordOrFullStop.ReplaceAllString(titleSource(text), "")
	if title == "" {
		return noTitle
	}
	return title
}

// FileTitle is the title used in the file name: the first sentence with
// symbols removed, cut to 20 characters.
func FileTitle(text string) string {
	sentence, _, _ := strings.Cut(titleSource(text), "。")
	title := []rune(nonWord.ReplaceAllString(sentence, ""))
	if len(title) > maxTitleRunes {
		title = title[:maxTitleRunes]
	}
	if len(title) == 0 {
		return noTitle
	}
	return string(title)
}
