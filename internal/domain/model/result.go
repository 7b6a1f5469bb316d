package model

// ResultKind discriminates classification outcomes. A no-match is an
// expected outcome of a healthy pipeline, never an error.
type ResultKind int

// Classification outcomes.
const (
	// ResultInvalid means the sample could not be scored at all.
	ResultInvalid ResultKind = iota
	// ResultNoMatch means the classifier found no acceptable identity.
	ResultNoMatch
	// ResultMatched means an identity was accepted under the threshold.
	ResultMatched
)

// Result is the outcome of classifying one sample.
type Result struct {
	Kind       ResultKind
	IdentityID int64
	Confidence float64
}

// Matched builds a positive result.
func Matched(identityID int64, confidence float64) Result {
	return Result{Kind: ResultMatched, IdentityID: identityID, Confidence: confidence}
}

// NoMatch builds the common negative result.
func NoMatch() Result {
	return Result{Kind: ResultNoMatch}
}

// Invalid builds the unscorable-sample result.
func Invalid() Result {
	return Result{Kind: ResultInvalid}
}
