package tabular

import (
	"path/filepath"
	"strings"
)

// Candidates are the delimiters considered when sniffing, in preference
// order for ties.
var Candidates = []rune{',', '\t', ';'}

// DefaultSniffLines is the number of leading lines inspected.
const DefaultSniffLines = 3

// DetectDelimiter picks the delimiter that splits the first sniffLines
// non-empty lines into the same number of fields (at least two) on every
// line, preferring the one yielding the most fields. Separators inside
// double quotes are ignored. When no candidate is consistent it falls back
// to tab for ".tsv" files and comma otherwise.
func DetectDelimiter(text, filename string, sniffLines int) rune {
	if sniffLines <= 0 {
		sniffLines = DefaultSniffLines
	}
	sample := sampleLines(text, sniffLines)

	var best rune
	bestFields := 1
	for _, c := range Candidates {
		fields, ok := consistentFields(sample, c)
		if ok && fields > bestFields {
			best, bestFields = c, fields
		}
	}
	if best != 0 {
		return best
	}
	return fallback(filename)
}

func fallback(filename string) rune {
	if strings.EqualFold(filepath.Ext(filename), ".tsv") {
		return '\t'
	}
	return ','
}

func sampleLines(text string, n int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}

// consistentFields reports the per-line field count for sep when every
// sampled line agrees.
func consistentFields(lines []string, sep rune) (int, bool) {
	if len(lines) == 0 {
		return 0, false
	}
	want := -1
	for _, l := range lines {
		n := countUnquoted(l, sep) + 1
		if want == -1 {
			want = n
		} else if n != want {
			return 0, false
		}
	}
	return want, want > 1
}

func countUnquoted(line string, sep rune) int {
	inQuotes := false
	n := 0
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == sep && !inQuotes:
			n++
		}
	}
	return n
}

// Name renders a delimiter for reports.
func Name(d rune) string {
	switch d {
	case '\t':
		return "tab"
	case ';':
		return "semicolon"
	default:
		return "comma"
	}
}
