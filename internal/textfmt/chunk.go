package textfmt

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	paragraphSeparator = "\n\n"
	sentenceSeparator  = " "
)

var (
	paragraphBreakRegex = regexp.MustCompile(`\n[ \t]*\n`)
	sentenceBreakRegex  = regexp.MustCompile(`[.!?]\s+`)
)

// Split breaks text into ordered chunks of at most maxLen runes each.
//
// Paragraphs are packed greedily; a paragraph that cannot fit on its own is
// packed sentence by sentence, and a sentence that still cannot fit is
// wrapped on word boundaries. Empty input yields no chunks. A non-positive
// maxLen disables the limit.
func Split(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 {
		return []string{text}
	}

	var p packer
	p.maxLen = maxLen
	for _, para := range paragraphs(text) {
		if runeLen(para) <= maxLen {
			p.add(para, paragraphSeparator)
			continue
		}
		p.flush()
		for _, sentence := range sentences(para) {
			for _, piece := range wrap(sentence, maxLen) {
				p.add(piece, sentenceSeparator)
			}
		}
		p.flush()
	}
	p.flush()
	return p.chunks
}

// packer accumulates pieces into chunks without exceeding maxLen.
type packer struct {
	maxLen int
	chunks []string
	buf    strings.Builder
	length int
}

func (p *packer) add(piece, sep string) {
	n := runeLen(piece)
	if p.length > 0 && p.length+runeLen(sep)+n > p.maxLen {
		p.flush()
	}
	if p.length > 0 {
		p.buf.WriteString(sep)
		p.length += runeLen(sep)
	}
	p.buf.WriteString(piece)
	p.length += n
}

func (p *packer) flush() {
	if p.length == 0 {
		return
	}
	p.chunks = append(p.chunks, p.buf.String())
	p.buf.Reset()
	p.length = 0
}

func paragraphs(text string) []string {
	var out []string
	for _, para := range paragraphBreakRegex.Split(text, -1) {
		if para = strings.TrimSpace(para); para != "" {
			out = append(out, para)
		}
	}
	return out
}

// sentences cuts after terminal punctuation followed by whitespace.
func sentences(para string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceBreakRegex.FindAllStringIndex(para, -1) {
		// keep the punctuation, drop the whitespace
		if s := strings.TrimSpace(para[start : loc[0]+1]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(para[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// wrap splits a sentence longer than maxLen on word boundaries, cutting
// single words that are themselves too long.
func wrap(sentence string, maxLen int) []string {
	if runeLen(sentence) <= maxLen {
		return []string{sentence}
	}
	var p packer
	p.maxLen = maxLen
	for _, word := range strings.Fields(sentence) {
		for runeLen(word) > maxLen {
			cut := runeOffset(word, maxLen)
			p.add(word[:cut], " ")
			word = word[cut:]
		}
		p.add(word, " ")
	}
	p.flush()
	return p.chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// runeOffset returns the byte offset of the n-th rune in s.
func runeOffset(s string, n int) int {
	i := 0
	for offset := range s {
		if i == n {
			return offset
		}
		i++
	}
	return len(s)
}
