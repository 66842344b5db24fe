package classify

import "context"

// Verdict is an external classifier's judgment about a text: an opaque
// label (e.g. "injection", "unsafe-topic:gambling") plus a confidence
// score in [0,1].
type Verdict struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier is the abstract semantic-classification capability the
// pipeline consumes. Implementations must honor the context deadline;
// failure is a reportable error, not a crash.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]Verdict, error)
}
