package render

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// SnippetLimit is the number of characters kept from joined keyword paragraphs.
	SnippetLimit = 950

	noteScanLines = 5
)

var (
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	lineBreakReplace = strings.NewReplacer("<br />", "\n", "<br/>", "\n", "<br>", "\n")
)

// CleanText converts post HTML to plain text: line-break tags become newlines,
// remaining tags are stripped and &nbsp; becomes a space.
func CleanText(html string) string {
	text := lineBreakReplace.Replace(html)
	text = tagPattern.ReplaceAllString(text, "")
	return strings.ReplaceAll(text, "&nbsp;", " ")
}

// FirstImageSrc returns the src attribute of the first <img> tag in html.
// Only the first tag is inspected; either quote style is accepted. It returns ""
// when there is no image or the first one has no quoted src.
func FirstImageSrc(html string) string {
	start := indexFold(html, "<img")
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(html[start:], '>')
	if end < 0 {
		return ""
	}
	tag := html[start : start+end]

	i := indexFold(tag, "src=")
	if i < 0 {
		return ""
	}
	rest := tag[i+len("src="):]
	if rest == "" {
		return ""
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return ""
	}
	closing := strings.IndexByte(rest[1:], quote)
	if closing < 0 {
		return ""
	}
	return rest[1 : 1+closing]
}

// indexFold is a case-insensitive strings.Index for an ASCII needle. Offsets index s
// itself, so multi-byte runes before the match do not shift them.
func indexFold(s, needle string) int {
	for i := 0; i+len(needle) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

// ExtractNote returns the text of the first bracketed line ("[...]") found among
// the first few non-empty lines of cleaned post text, without the brackets.
func ExtractNote(cleaned string) string {
	seen := 0
	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") && len(line) > 2 {
			return strings.TrimSpace(line[1 : len(line)-1])
		}
		seen++
		if seen >= noteScanLines {
			break
		}
	}
	return ""
}

// ContainsWord reports whether text contains keyword as a whole word, ignoring case.
func ContainsWord(text, keyword string) bool {
	return CountWord(text, keyword) > 0
}

// CountWord counts case-insensitive whole-word occurrences of keyword in text.
// A word boundary is any rune that is not a letter, digit or underscore.
func CountWord(text, keyword string) int {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return 0
	}
	lower := strings.ToLower(text)

	count := 0
	for offset := 0; offset < len(lower); {
		i := strings.Index(lower[offset:], kw)
		if i < 0 {
			break
		}
		start := offset + i
		end := start + len(kw)
		if boundaryBefore(lower, start) && boundaryAfter(lower, end) {
			count++
			offset = end
			continue
		}
		_, size := utf8.DecodeRuneInString(lower[start:])
		offset = start + size
	}
	return count
}

// KeywordSnippet collects every paragraph of cleaned that mentions keyword, joined by
// blank lines. When the result exceeds SnippetLimit characters it is cut and the total
// mention count is appended. ok is false when keyword does not occur.
func KeywordSnippet(cleaned, keyword string) (snippet string, ok bool) {
	total := CountWord(cleaned, keyword)
	if total == 0 {
		return "", false
	}

	var extracts []string
	for _, part := range strings.Split(cleaned, "\n\n") {
		if ContainsWord(part, keyword) {
			extracts = append(extracts, strings.TrimSpace(part))
		}
	}

	snippet = strings.Join(extracts, "\n\n")
	if utf8.RuneCountInString(snippet) > SnippetLimit {
		snippet = fmt.Sprintf("%s... `%d` mentions in total", truncateRunes(snippet, SnippetLimit), total)
	}
	return snippet, true
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
