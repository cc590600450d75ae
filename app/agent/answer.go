package agent

import (
	"strings"
	"time"

	"resumerag/types"
)

var confidenceWeights = []float64{1.2, 1.0, 0.8, 0.6, 0.4}

// Confidence is the weighted mean of the first len(confidenceWeights)
// scores, normalized by the weights used.
func Confidence(scores []float64) float64 {
	if len(scores) > len(confidenceWeights) {
		scores = scores[:len(confidenceWeights)]
	}
	var sum, weights float64
	for i, s := range scores {
		sum += s * confidenceWeights[i]
		weights += confidenceWeights[i]
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// FormatAnswer packages a raw LLM reply with the passages it was grounded on.
func FormatAnswer(raw string, retrieval types.Retrieval, class types.Classification) types.Answer {
	scores := retrieval.Scores()
	sources := make([]types.Source, len(retrieval.Matches))
	for i, m := range retrieval.Matches {
		sources[i] = types.Source{
			Filename: m.Filename(),
			Section:  m.Section(),
			Index:    m.Sequence(),
			Score:    m.Score,
		}
	}
	return types.Answer{
		Answer: strings.TrimSpace(raw),
		Metadata: types.Metadata{
			ContextUsed:     retrieval.Texts(),
			RelevanceScores: scores,
			Sources:         sources,
		},
		Confidence:     Confidence(scores),
		Classification: class,
		Timestamp:      time.Now().UTC(),
	}
}
