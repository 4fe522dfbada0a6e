package citation

import (
	"fmt"
	"regexp"
)

// Grammar describes the inline marker syntax produced by a generation source.
// Pattern must contain a named group "index" holding the referenced position,
// and Base is the position of the first citation in that numbering.
type Grammar struct {
	Name    string
	Pattern *regexp.Regexp
	Base    int
	// Display renders the replacement for a resolved marker. Nil renders "[k]".
	Display func(ordinal int) string
}

var (
	// DocGrammar matches the chat completion markers "[doc1]", "[doc2]", ...
	DocGrammar = Grammar{
		Name:    "doc",
		Pattern: regexp.MustCompile(`\[doc(?P<index>\d{1,3})\]`),
		Base:    1,
	}

	// RefGrammar matches zero-based "[ref0]" markers.
	RefGrammar = Grammar{
		Name:    "ref",
		Pattern: regexp.MustCompile(`\[ref(?P<index>\d{1,3})\]`),
		Base:    0,
	}

	// AgentGrammar matches the agent service's "【3:0†source】" annotations, where the
	// first number is the zero-based citation position.
	AgentGrammar = Grammar{
		Name:    "agent",
		Pattern: regexp.MustCompile(`【(?P<index>\d+):\d+†source】`),
		Base:    0,
	}
)

// GrammarByName returns one of the built-in grammars.
func GrammarByName(name string) (Grammar, error) {
	switch name {
	case "", DocGrammar.Name:
		return DocGrammar, nil
	case RefGrammar.Name:
		return RefGrammar, nil
	case AgentGrammar.Name:
		return AgentGrammar, nil
	}
	return Grammar{}, fmt.Errorf("unknown citation marker grammar %q", name)
}

func (g Grammar) display(ordinal int) string {
	if g.Display != nil {
		return g.Display(ordinal)
	}
	return fmt.Sprintf("[%d]", ordinal)
}
