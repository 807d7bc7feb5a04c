package models

import (
	"time"
)

// ReliabilityMetrics выводится из истории рецензий и нигде не хранится целиком.
type ReliabilityMetrics struct {
	ReviewerID          string   `json:"reviewer_id"`
	AgreementRate       *float64 `json:"agreement_rate,omitempty"`
	LatenessRate        *float64 `json:"lateness_rate,omitempty"`
	QualityAverage      *float64 `json:"quality_average,omitempty"`
	Volume              int      `json:"volume"`
	HighDivergenceCount int      `json:"high_divergence_count"`
}

type ReliabilityScoreRecord struct {
	ID         string    `json:"id" db:"id"`
	ReviewerID string    `json:"reviewer_id" db:"reviewer_id"`
	FormulaID  string    `json:"formula_id" db:"formula_id"`
	Score      float64   `json:"score" db:"score"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	Delta      *float64  `json:"delta,omitempty" db:"delta"`
	ComputedAt time.Time `json:"computed_at" db:"computed_at"`
}

type ReliabilityStatus string

const (
	ReliabilityStatusExcellent ReliabilityStatus = "EXCELLENT"
	ReliabilityStatusGood      ReliabilityStatus = "GOOD"
	ReliabilityStatusAtRisk    ReliabilityStatus = "AT_RISK"
)

func (s ReliabilityStatus) String() string {
	return string(s)
}
