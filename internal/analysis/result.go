package analysis

// Sentiment classifications the analysis service may assign.
const (
	SentimentPositive = "Positive"
	SentimentNegative = "Negative"
	SentimentNeutral  = "Neutral"
)

// DocTypeUnknown marks a message whose analysis did not complete.
const DocTypeUnknown = "Unknown"

// Result is the fixed-shape analysis record for one message. It is always
// produced, either from a successful upstream call or from Fallback, so
// consumers never branch on "analysis missing".
type Result struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"actionItems"`
	Sentiment   string   `json:"sentiment"`
	DocType     string   `json:"docType"`
}

// Fallback returns the deterministic substitute used whenever an analysis
// call fails. One bad analysis must never abort a batch of good results.
func Fallback() Result {
	return Result{
		Summary:     "Analysis unavailable for this message.",
		ActionItems: []string{},
		Sentiment:   SentimentNeutral,
		DocType:     DocTypeUnknown,
	}
}

// validSentiment reports whether s is one of the three allowed values.
func validSentiment(s string) bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}
