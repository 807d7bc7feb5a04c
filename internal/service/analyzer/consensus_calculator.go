package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type ConsensusCalculator interface {
	Calculate(reviews []ReviewInput, aiScore *float64) (*ConsensusResult, error)
	ResolveVotes(peerScores []float64, votes []float64) (*VoteResolution, error)
	Config() ConsensusConfig
}

type ConsensusConfig struct {
	DivergenceThreshold  float64
	AIWeight             float64
	ReliabilityWeighting bool
	MinReliabilityWeight float64
}

type ReviewInput struct {
	ReviewerID string
	Score      float64
	// Reliability используется как вес только при включенном ReliabilityWeighting.
	Reliability *float64
}

type ConsensusResult struct {
	PeerScores      []float64 `json:"peer_scores"`
	Min             float64   `json:"min"`
	Max             float64   `json:"max"`
	Spread          float64   `json:"spread"`
	Divergent       bool      `json:"divergent"`
	ConflictSummary string    `json:"conflict_summary,omitempty"`
	PeerScore       float64   `json:"peer_score"`
	FinalScore      float64   `json:"final_score"`
	Confidence      float64   `json:"confidence"`
}

type VoteResolution struct {
	Score      float64         `json:"score"`
	Accepted   int             `json:"accepted"`
	Clamped    int             `json:"clamped"`
	Tally      map[float64]int `json:"tally"`
	RangeLow   float64         `json:"range_low"`
	RangeHigh  float64         `json:"range_high"`
	PeerMedian float64         `json:"peer_median"`
}

type consensusCalculator struct {
	config ConsensusConfig
}

func NewConsensusCalculator(config ConsensusConfig) ConsensusCalculator {
	if config.DivergenceThreshold <= 0 {
		config.DivergenceThreshold = 50
	}
	if config.AIWeight < 0 {
		config.AIWeight = 0
	}
	if config.AIWeight > 1 {
		config.AIWeight = 1
	}
	if config.MinReliabilityWeight <= 0 {
		config.MinReliabilityWeight = 0.1
	}

	return &consensusCalculator{config: config}
}

func (c *consensusCalculator) Config() ConsensusConfig {
	return c.config
}

func (c *consensusCalculator) Calculate(reviews []ReviewInput, aiScore *float64) (*ConsensusResult, error) {
	if len(reviews) == 0 {
		return nil, ErrNoReviews
	}

	scores := make([]float64, 0, len(reviews))
	for _, review := range reviews {
		if !validScore(review.Score) {
			return nil, fmt.Errorf("%w: reviewer %s has score %v outside [%d, %d]",
				ErrMalformedReview, review.ReviewerID, review.Score, models.MinReviewScore, models.MaxReviewScore)
		}
		scores = append(scores, review.Score)
	}
	if aiScore != nil && !validScore(*aiScore) {
		return nil, fmt.Errorf("%w: ai pre-score %v outside [%d, %d]",
			ErrMalformedReview, *aiScore, models.MinReviewScore, models.MaxReviewScore)
	}

	low, high := bounds(scores)
	spread := high - low

	result := &ConsensusResult{
		PeerScores: scores,
		Min:        low,
		Max:        high,
		Spread:     spread,
		Confidence: confidenceFromSpread(spread),
	}

	if spread > c.config.DivergenceThreshold {
		result.Divergent = true
		result.ConflictSummary = c.conflictSummary(scores, low, high, spread)
		return result, nil
	}

	peerScore := c.weightedMean(reviews)
	final := peerScore
	if aiScore != nil && c.config.AIWeight > 0 {
		final = (1-c.config.AIWeight)*peerScore + c.config.AIWeight*(*aiScore)
	}

	result.PeerScore = round2(peerScore)
	result.FinalScore = round2(final)

	return result, nil
}

func (c *consensusCalculator) weightedMean(reviews []ReviewInput) float64 {
	var sum, totalWeight float64
	for _, review := range reviews {
		weight := 1.0
		if c.config.ReliabilityWeighting && review.Reliability != nil {
			weight = math.Max(*review.Reliability, c.config.MinReliabilityWeight)
		}
		sum += weight * review.Score
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0
	}

	return sum / totalWeight
}

func (c *consensusCalculator) conflictSummary(scores []float64, low, high, spread float64) string {
	zeros, highs := 0, 0
	for _, score := range scores {
		if score == 0 {
			zeros++
		}
		if score >= c.config.DivergenceThreshold {
			highs++
		}
	}

	if zeros > 0 && highs > 0 && zeros < len(scores) {
		return fmt.Sprintf("zero-score outlier vs. high scores: %d zero score(s) against %d score(s) of %.0f or more (spread %.0f)",
			zeros, highs, c.config.DivergenceThreshold, spread)
	}

	return fmt.Sprintf("general disagreement: scores range from %.0f to %.0f (spread %.0f)", low, high, spread)
}

// ResolveVotes прижимает голоса к диапазону [min, max] оценок рецензентов и выбирает
// самое частое значение. При равенстве выигрывает значение ближе к медиане, затем меньшее.
func (c *consensusCalculator) ResolveVotes(peerScores []float64, votes []float64) (*VoteResolution, error) {
	if len(peerScores) == 0 {
		return nil, ErrNoReviews
	}
	if len(votes) == 0 {
		return nil, ErrNoVotes
	}

	low, high := bounds(peerScores)
	median := Median(peerScores)

	resolution := &VoteResolution{
		Tally:      make(map[float64]int),
		RangeLow:   low,
		RangeHigh:  high,
		PeerMedian: median,
	}

	for _, vote := range votes {
		if math.IsNaN(vote) || math.IsInf(vote, 0) {
			continue
		}
		clamped := math.Min(math.Max(vote, low), high)
		if clamped != vote {
			resolution.Clamped++
		}
		resolution.Tally[math.Round(clamped)]++
		resolution.Accepted++
	}

	if resolution.Accepted == 0 {
		return nil, ErrNoVotes
	}

	candidates := make([]float64, 0, len(resolution.Tally))
	for value := range resolution.Tally {
		candidates = append(candidates, value)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if resolution.Tally[a] != resolution.Tally[b] {
			return resolution.Tally[a] > resolution.Tally[b]
		}
		da, db := math.Abs(a-median), math.Abs(b-median)
		if da != db {
			return da < db
		}
		return a < b
	})

	resolution.Score = candidates[0]
	return resolution, nil
}

func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func bounds(values []float64) (float64, float64) {
	low, high := values[0], values[0]
	for _, v := range values[1:] {
		if v < low {
			low = v
		}
		if v > high {
			high = v
		}
	}
	return low, high
}

func confidenceFromSpread(spread float64) float64 {
	scale := float64(models.MaxReviewScore - models.MinReviewScore)
	confidence := 1 - spread/scale
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return round2(confidence)
}

func validScore(score float64) bool {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false
	}
	return score >= models.MinReviewScore && score <= models.MaxReviewScore
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
