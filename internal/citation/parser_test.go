package citation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

func raws(ids ...string) []*RawCitation {
	out := make([]*RawCitation, len(ids))
	for i, id := range ids {
		out[i] = &RawCitation{Index: i, ID: id, Title: "Title " + id, URL: "https://docs.example.com/" + id}
	}
	return out
}

func TestParse_SingleRefMarker(t *testing.T) {
	p := NewParser(RefGrammar)
	got := p.Parse(RawAnswer{
		Text:         "The sky is blue [ref0].",
		RawCitations: []*RawCitation{{Index: 0, ID: "c1", Title: "Sky Facts"}},
	})

	assert.Equal(t, "The sky is blue [1].", got.MarkdownText)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, 1, got.Citations[0].Ordinal)
	assert.Equal(t, "c1", got.Citations[0].ID)
	assert.Equal(t, "Sky Facts", got.Citations[0].Title)
}

func TestParse_FirstOccurrenceOrdering(t *testing.T) {
	got := Parse(RawAnswer{
		Text:         "A [doc2] B [doc1] C [doc2] D [doc3]",
		RawCitations: raws("c1", "c2", "c3"),
	})

	assert.Equal(t, "A [1] B [2] C [1] D [3]", got.MarkdownText)
	require.Len(t, got.Citations, 3)
	for i, want := range []string{"c2", "c1", "c3"} {
		assert.Equal(t, want, got.Citations[i].ID)
		assert.Equal(t, i+1, got.Citations[i].Ordinal)
	}
}

func TestParse_SameIDAtDifferentPositions(t *testing.T) {
	got := Parse(RawAnswer{
		Text:         "One[doc1] two[doc2] three[doc3]",
		RawCitations: raws("x", "x", "y"),
	})

	assert.Equal(t, "One[1] two[1] three[2]", got.MarkdownText)
	require.Len(t, got.Citations, 2)
	assert.Equal(t, "x", got.Citations[0].ID)
	assert.Equal(t, "y", got.Citations[1].ID)
}

func TestParse_MalformedReferencesAreDropped(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		citations []*RawCitation
		want      string
		wantIDs   []string
	}{
		{
			name:      "out of range",
			text:      "See [doc5].",
			citations: raws("c1"),
			want:      "See .",
		},
		{
			name:      "below base",
			text:      "See [doc0] and [doc1].",
			citations: raws("c1"),
			want:      "See  and [1].",
			wantIDs:   []string{"c1"},
		},
		{
			name:      "absent record",
			text:      "First [doc1], second [doc2].",
			citations: []*RawCitation{nil, {ID: "c2", Title: "Second"}},
			want:      "First , second [1].",
			wantIDs:   []string{"c2"},
		},
		{
			name: "no citations at all",
			text: "Lonely [doc1]",
			want: "Lonely ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(RawAnswer{Text: tt.text, RawCitations: tt.citations})
			assert.Equal(t, tt.want, got.MarkdownText)

			ids := make([]string, 0, len(got.Citations))
			for _, c := range got.Citations {
				ids = append(ids, c.ID)
			}
			if tt.wantIDs == nil {
				assert.Empty(t, ids)
			} else {
				assert.Equal(t, tt.wantIDs, ids)
			}
		})
	}
}

func TestParse_NoMarkers(t *testing.T) {
	in := RawAnswer{Text: "Plain answer with [a link](https://example.com).", RawCitations: raws("c1")}
	got := Parse(in)

	assert.Equal(t, in.Text, got.MarkdownText)
	assert.NotNil(t, got.Citations)
	assert.Empty(t, got.Citations)
}

func TestParse_Idempotent(t *testing.T) {
	first := Parse(RawAnswer{Text: "x [doc1] y [doc2] z [doc1]", RawCitations: raws("a", "b")})
	second := Parse(RawAnswer{Text: first.MarkdownText, RawCitations: raws("a", "b")})

	assert.Equal(t, first.MarkdownText, second.MarkdownText)
	assert.Empty(t, second.Citations)
}

func TestParse_AgentGrammar(t *testing.T) {
	p := NewParser(AgentGrammar)
	got := p.Parse(RawAnswer{
		Text:         "Revenue grew【1:0†source】 while costs fell【0:4†source】【1:2†source】.",
		RawCitations: raws("r0", "r1"),
	})

	assert.Equal(t, "Revenue grew[1] while costs fell[2][1].", got.MarkdownText)
	require.Len(t, got.Citations, 2)
	assert.Equal(t, "r1", got.Citations[0].ID)
	assert.Equal(t, "r0", got.Citations[1].ID)
}

func TestParse_CustomDisplay(t *testing.T) {
	g := DocGrammar
	g.Display = func(ordinal int) string { return " ^" + string(rune('0'+ordinal)) + "^ " }
	got := NewParser(g).Parse(RawAnswer{Text: "Fact[doc1].", RawCitations: raws("c1")})

	assert.Equal(t, "Fact ^1^ .", got.MarkdownText)
}

func TestParse_ResolvedFields(t *testing.T) {
	part := 2
	got := Parse(RawAnswer{
		Text: "[doc1] [doc2]",
		RawCitations: []*RawCitation{
			{ID: "", Title: "", Filepath: "reports/q3.pdf", PartIndex: &part},
			{ID: "b", Title: "Has URL", URL: "https://example.com/b", Filepath: "b.md"},
		},
	})

	require.Len(t, got.Citations, 2)
	first := got.Citations[0]
	assert.Equal(t, "1", first.ID, "empty id falls back to the marker position")
	assert.Equal(t, "reports/q3.pdf", first.URL)
	assert.Equal(t, "Citation 1", first.Label())
	require.NotNil(t, first.PartIndex)
	assert.Equal(t, 2, *first.PartIndex)

	assert.Equal(t, "https://example.com/b", got.Citations[1].URL)
	assert.Equal(t, "Has URL", got.Citations[1].Label())
	assert.Equal(t, "2 references", got.ReferenceSummary())
}

func TestParse_PreservesMarkdownStructure(t *testing.T) {
	src := "# Findings [doc1]\n\n" +
		"Most respondents *prefer streaming [doc2]* over cable.\n\n" +
		"- Gen Z leads adoption [doc1]\n" +
		"- Millennials follow [doc3]\n\n" +
		"```\ncode stays [doc9]\n```\n\n" +
		"> Quoted insight [doc2]\n"

	got := Parse(RawAnswer{Text: src, RawCitations: raws("a", "b", "c")})

	assert.Equal(t, nodeKinds(t, src), nodeKinds(t, got.MarkdownText))
	assert.Len(t, got.Citations, 3)
}

func TestGrammarByName(t *testing.T) {
	g, err := GrammarByName("")
	require.NoError(t, err)
	assert.Equal(t, "doc", g.Name)

	g, err = GrammarByName("agent")
	require.NoError(t, err)
	assert.Equal(t, AgentGrammar.Name, g.Name)

	_, err = GrammarByName("footnote")
	assert.Error(t, err)
}

func TestReferenceSummary(t *testing.T) {
	assert.Equal(t, "", ParsedAnswer{}.ReferenceSummary())
	assert.Equal(t, "1 reference", ParsedAnswer{Citations: []Citation{{Ordinal: 1}}}.ReferenceSummary())
}

// nodeKinds lists the non-text node kinds of the markdown document in walk order.
func nodeKinds(t *testing.T, src string) []string {
	t.Helper()
	doc := goldmark.New().Parser().Parse(text.NewReader([]byte(src)))

	var kinds []string
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() != ast.KindText {
			kinds = append(kinds, n.Kind().String())
		}
		return ast.WalkContinue, nil
	})
	require.NoError(t, err)
	return kinds
}
