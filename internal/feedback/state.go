package feedback

import (
	"slices"
	"strings"
)

// Kind is the top-level feedback classification of a message.
type Kind int

const (
	Neutral Kind = iota
	Positive
	Negative
)

func (k Kind) String() string {
	switch k {
	case Positive:
		return ValuePositive
	case Negative:
		return ValueNegative
	default:
		return ValueNeutral
	}
}

// Persisted single-token values.
const (
	ValueNeutral  = "neutral"
	ValuePositive = "positive"
	ValueNegative = "negative"
)

// Reason is a negative-feedback reason code, stored as its wire token.
type Reason string

// Reasons offered on the "not helpful" page.
const (
	MissingCitation        Reason = "missing_citation"
	WrongCitation          Reason = "wrong_citation"
	OutOfScope             Reason = "out_of_scope"
	InaccurateOrIrrelevant Reason = "inaccurate_or_irrelevant"
	OtherUnhelpful         Reason = "other_unhelpful"
)

// Reasons offered on the "report inappropriate content" page.
const (
	HateSpeech   Reason = "hate_speech"
	Violent      Reason = "violent"
	Sexual       Reason = "sexual"
	Manipulative Reason = "manipulative"
	OtherHarmful Reason = "other_harmful"
)

var (
	unhelpfulReasons     = []Reason{MissingCitation, WrongCitation, OutOfScope, InaccurateOrIrrelevant, OtherUnhelpful}
	inappropriateReasons = []Reason{HateSpeech, Violent, Sexual, Manipulative, OtherHarmful}
)

// UnhelpfulReasons returns the reason codes of the first dialog page.
func UnhelpfulReasons() []Reason { return slices.Clone(unhelpfulReasons) }

// InappropriateReasons returns the reason codes of the report page.
func InappropriateReasons() []Reason { return slices.Clone(inappropriateReasons) }

// Valid reports whether r is a known reason code.
func (r Reason) Valid() bool {
	return slices.Contains(unhelpfulReasons, r) || slices.Contains(inappropriateReasons, r)
}

// Label is the human readable checkbox text for r.
func (r Reason) Label() string {
	switch r {
	case MissingCitation:
		return "Citations are missing"
	case WrongCitation:
		return "Citations are wrong"
	case OutOfScope:
		return "The response is not from my data"
	case InaccurateOrIrrelevant:
		return "Inaccurate or irrelevant"
	case HateSpeech:
		return "Hate speech, stereotyping, demeaning"
	case Violent:
		return "Violent: glorification of violence, self-harm"
	case Sexual:
		return "Sexual: explicit content, grooming"
	case Manipulative:
		return "Manipulative: devious, emotional, pushy, bullying"
	case OtherUnhelpful, OtherHarmful:
		return "Other"
	}
	return string(r)
}

// State is the feedback attached to one message. Reasons is only meaningful for
// Negative and keeps the order the reasons were picked in.
type State struct {
	Kind    Kind     `json:"kind"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Value is the persisted form of s: a single token, or the comma-joined reasons of a
// Negative state.
func (s State) Value() string {
	if s.Kind == Negative && len(s.Reasons) > 0 {
		parts := make([]string, len(s.Reasons))
		for i, r := range s.Reasons {
			parts[i] = string(r)
		}
		return strings.Join(parts, ",")
	}
	return s.Kind.String()
}

// Equal compares kind and reasons, order included.
func (s State) Equal(o State) bool {
	return s.Kind == o.Kind && slices.Equal(s.Reasons, o.Reasons)
}

func (s State) clone() State {
	return State{Kind: s.Kind, Reasons: slices.Clone(s.Reasons)}
}

// ParseValue rebuilds a State from a persisted value. More than one comma-separated
// token means Negative with the recognised reasons; a single recognised token maps to
// its own state; anything else, including the empty string, is Neutral.
func ParseValue(raw string) State {
	if raw == "" {
		return State{Kind: Neutral}
	}

	tokens := strings.Split(raw, ",")
	if len(tokens) > 1 {
		var reasons []Reason
		for _, tok := range tokens {
			r := Reason(strings.TrimSpace(tok))
			if r.Valid() && !slices.Contains(reasons, r) {
				reasons = append(reasons, r)
			}
		}
		return State{Kind: Negative, Reasons: reasons}
	}

	switch tok := strings.TrimSpace(raw); tok {
	case ValueNeutral:
		return State{Kind: Neutral}
	case ValuePositive:
		return State{Kind: Positive}
	case ValueNegative:
		return State{Kind: Negative}
	default:
		if r := Reason(tok); r.Valid() {
			return State{Kind: Negative, Reasons: []Reason{r}}
		}
	}
	return State{Kind: Neutral}
}

// ValidValue reports whether raw is something a client may persist: a single known
// token, or a comma-joined list of known reason codes.
func ValidValue(raw string) bool {
	if raw == "" {
		return false
	}
	tokens := strings.Split(raw, ",")
	if len(tokens) == 1 {
		switch raw {
		case ValueNeutral, ValuePositive, ValueNegative:
			return true
		}
	}
	for _, tok := range tokens {
		if !Reason(tok).Valid() {
			return false
		}
	}
	return true
}
