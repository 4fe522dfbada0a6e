// Package citation turns an answer's inline citation markers into display ordinals.
//
// Markers are replaced in place; the text between them is copied through untouched,
// so the surrounding markdown keeps its structure. A marker that points at a missing
// citation is removed from the text and contributes nothing to the citation list.
package citation

import (
	"strconv"
	"strings"
)

// Parser rewrites answers written in one marker grammar. It holds no state between calls
// and is safe for concurrent use.
type Parser struct {
	grammar Grammar
	index   int
}

// NewParser returns a parser for g. It panics if g.Pattern has no "index" group.
func NewParser(g Grammar) *Parser {
	idx := g.Pattern.SubexpIndex("index")
	if idx < 0 {
		panic("citation: grammar " + g.Name + " has no index group")
	}
	return &Parser{grammar: g, index: idx}
}

var defaultParser = NewParser(DocGrammar)

// Parse rewrites raw using DocGrammar.
func Parse(raw RawAnswer) ParsedAnswer {
	return defaultParser.Parse(raw)
}

// Grammar returns the grammar the parser was built with.
func (p *Parser) Grammar() Grammar {
	return p.grammar
}

// Parse scans raw.Text left to right. Each resolvable marker is replaced by the ordinal
// of its citation id; ordinals are handed out densely in order of first appearance.
func (p *Parser) Parse(raw RawAnswer) ParsedAnswer {
	matches := p.grammar.Pattern.FindAllStringSubmatchIndex(raw.Text, -1)
	if len(matches) == 0 {
		return ParsedAnswer{MarkdownText: raw.Text, Citations: []Citation{}}
	}

	var b strings.Builder
	b.Grow(len(raw.Text))
	citations := make([]Citation, 0, len(matches))
	ordinals := make(map[string]int, len(matches))

	last := 0
	for _, m := range matches {
		b.WriteString(raw.Text[last:m[0]])
		last = m[1]

		position := raw.Text[m[2*p.index]:m[2*p.index+1]]
		rc, ok := p.lookup(raw.RawCitations, position)
		if !ok {
			continue
		}

		id := rc.ID
		if id == "" {
			id = position
		}
		ordinal, seen := ordinals[id]
		if !seen {
			ordinal = len(citations) + 1
			ordinals[id] = ordinal
			citations = append(citations, resolve(rc, id, ordinal))
		}
		b.WriteString(p.grammar.display(ordinal))
	}
	b.WriteString(raw.Text[last:])

	return ParsedAnswer{MarkdownText: b.String(), Citations: citations}
}

func (p *Parser) lookup(list []*RawCitation, position string) (*RawCitation, bool) {
	n, err := strconv.Atoi(position)
	if err != nil {
		return nil, false
	}
	n -= p.grammar.Base
	if n < 0 || n >= len(list) || list[n] == nil {
		return nil, false
	}
	return list[n], true
}

func resolve(rc *RawCitation, id string, ordinal int) Citation {
	url := rc.URL
	if url == "" {
		url = rc.Filepath
	}
	return Citation{
		Ordinal:   ordinal,
		ID:        id,
		Title:     rc.Title,
		URL:       url,
		Filepath:  rc.Filepath,
		Content:   rc.Content,
		PartIndex: rc.PartIndex,
	}
}
