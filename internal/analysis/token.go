package analysis

import "strings"

// displayRewriter makes control characters visible in rendered output while
// keeping line structure: newlines gain a return marker, tabs become arrows.
var displayRewriter = strings.NewReplacer("\n", "↵\n", "\t", "→")

// Prediction is one of the model's best guesses at a position, independent
// of the token that actually occurred there.
type Prediction struct {
	Text        string
	Probability float32
}

// AnalyzedToken is the per-token unit of analysis output.
//
// Rank is 1-based among the model's candidates at the previous position.
// The first token of a sequence has no prior context; it carries rank 1 and
// probability 0 as a display placeholder and is excluded from aggregates.
type AnalyzedToken struct {
	Text        string
	DisplayText string
	Rank        int
	// TopPredictions is sorted descending by probability, length <= 5,
	// normalized over the same distribution as Probability.
	TopPredictions []Prediction
	// Probability is the mass the model assigned to this actual token.
	Probability float32
}

// NewAnalyzedToken derives DisplayText once at construction.
func NewAnalyzedToken(text string, rank int, top []Prediction, probability float32) AnalyzedToken {
	return AnalyzedToken{
		Text:           text,
		DisplayText:    displayRewriter.Replace(text),
		Rank:           rank,
		TopPredictions: top,
		Probability:    probability,
	}
}
