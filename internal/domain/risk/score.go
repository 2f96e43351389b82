package risk

// DefaultWeights is the per-tag contribution used by Score.
var DefaultWeights = map[Tag]float64{
	TagDelete:    0.4,
	TagOverwrite: 0.3,
	TagNetwork:   0.25,
	TagConnector: 0.25,
	TagBatch:     0.2,
}

// WeightedScorer sums per-tag weights and clamps the result to [0,1].
type WeightedScorer struct {
	Weights map[Tag]float64
}

// NewWeightedScorer returns a scorer using DefaultWeights.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{Weights: DefaultWeights}
}

// Score returns a score in [0,1] for the given tag set.
func (s *WeightedScorer) Score(tags []Tag) float64 {
	weights := s.Weights
	if weights == nil {
		weights = DefaultWeights
	}
	var total float64
	for _, t := range tags {
		total += weights[t]
	}
	switch {
	case total < 0:
		return 0
	case total > 1:
		return 1
	}
	return total
}

// Score scores tags with DefaultWeights.
func Score(tags []Tag) float64 {
	return (&WeightedScorer{}).Score(tags)
}
