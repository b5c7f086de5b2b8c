// Package speech turns assistant replies into audio: markdown is stripped to
// plain text and handed to a speech synthesizer.
package speech

import (
	"regexp"
	"strings"
)

var (
	fencedCode = regexp.MustCompile("```[\\s\\S]*?```")
	inlineCode = regexp.MustCompile("`[^`]+`")
	htmlTag    = regexp.MustCompile(`<[^>]+>`)

	// linePrefix takes any stack of heading, blockquote and list markers off
	// the start of a line, along with its indentation.
	linePrefix = regexp.MustCompile(`(?m)^[ \t]*(?:(?:#{1,6}|>|[-*+]|\d+\.)[ \t]+)*`)
	ruleLine   = regexp.MustCompile(`(?m)^(?:-{3,}|_{3,}|\*{3,})[ \t]*$`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// steps run once, in order. Each one only deletes characters and cannot
// rebuild syntax that an earlier step removed: code goes first and takes
// every backtick with it, tags go before links so "[a]<x>(b)" cannot turn
// into a link later, and emphasis goes before line markers so "*-* item"
// still loses its bullet.
var steps = []func(string) string{
	func(s string) string { return fencedCode.ReplaceAllString(s, "") },
	func(s string) string { return inlineCode.ReplaceAllString(s, "") },
	func(s string) string { return strings.ReplaceAll(s, "`", "") },
	func(s string) string { return htmlTag.ReplaceAllString(s, "") },
	stripLinks,
	stripEmphasis,
	func(s string) string { return linePrefix.ReplaceAllString(s, "") },
	func(s string) string { return ruleLine.ReplaceAllString(s, "") },
	func(s string) string { return blankLines.ReplaceAllString(s, "\n\n") },
	func(s string) string { return strings.Trim(s, asciiSpace) },
}

// asciiSpace matches the set isSpace accepts. Trimming wider Unicode space
// here would expose markers that linePrefix never saw.
const asciiSpace = " \t\n\r\v\f"

// Strip removes markdown syntax so text reads naturally when spoken.
// Strip(Strip(s)) == Strip(s) for every s.
func Strip(text string) string {
	for _, step := range steps {
		text = step(text)
	}
	return text
}

// stripLinks keeps the text of links and the alt text of images and drops
// their targets. Brackets nest, so "[[a](b)](c)" reads "a". Every bracket is
// dropped, matched or not.
func stripLinks(s string) string {
	if !strings.ContainsAny(s, "[]") {
		return s
	}

	// nextClose[i] is the index of the first ')' at or after i, or -1.
	nextClose := make([]int, len(s)+1)
	nextClose[len(s)] = -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ')' {
			nextClose[i] = i
		} else {
			nextClose[i] = nextClose[i+1]
		}
	}

	drop := make([]bool, len(s))
	var open []int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			open = append(open, i)
			drop[i] = true
		case ']':
			drop[i] = true
			if len(open) == 0 {
				continue
			}
			o := open[len(open)-1]
			open = open[:len(open)-1]
			if i+2 >= len(s) || s[i+1] != '(' {
				continue
			}
			end := nextClose[i+2]
			if end <= i+2 {
				continue
			}
			if o > 0 && s[o-1] == '!' {
				drop[o-1] = true
			}
			for j := i + 1; j <= end; j++ {
				drop[j] = true
			}
			i = end
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if !drop[i] {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// stripEmphasis drops runs of '*' and '_' unless the run stands alone between
// whitespace, as in "2 * 3" or a "- item" bullet. Underscores inside words go
// too.
func stripEmphasis(s string) string {
	if !strings.ContainsAny(s, "*_") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if !isEmphasis(s[i]) {
			b.WriteByte(s[i])
			i++
			continue
		}
		j := i
		for j < len(s) && isEmphasis(s[j]) {
			j++
		}
		if (i == 0 || isSpace(s[i-1])) && (j == len(s) || isSpace(s[j])) {
			b.WriteString(s[i:j])
		}
		i = j
	}
	return b.String()
}

func isEmphasis(c byte) bool { return c == '*' || c == '_' }

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
