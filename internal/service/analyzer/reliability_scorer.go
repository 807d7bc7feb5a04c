package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

const (
	FormulaBalancedV1       = "v1-balanced"
	FormulaAgreementHeavyV2 = "v2-agreement-heavy"
	FormulaQualityHeavyV2   = "v2-quality-heavy"

	ExcellentScoreThreshold = 0.8
	maxQualityRating        = 5.0
)

type FormulaWeights struct {
	Agreement  float64 `json:"agreement"`
	Timeliness float64 `json:"timeliness"`
	Quality    float64 `json:"quality"`
	Volume     float64 `json:"volume"`
}

// FormulaDefaults подставляются, когда метрика еще не наблюдалась.
type FormulaDefaults struct {
	AgreementRate  float64 `json:"agreement_rate"`
	LatenessRate   float64 `json:"lateness_rate"`
	QualityAverage float64 `json:"quality_average"`
}

type Formula struct {
	ID               string          `json:"id"`
	Weights          FormulaWeights  `json:"weights"`
	Defaults         FormulaDefaults `json:"defaults"`
	VolumeSaturation int             `json:"volume_saturation"`
}

var builtinFormulas = map[string]Formula{
	FormulaBalancedV1: {
		ID:               FormulaBalancedV1,
		Weights:          FormulaWeights{Agreement: 0.4, Timeliness: 0.3, Quality: 0.2, Volume: 0.1},
		Defaults:         FormulaDefaults{AgreementRate: 0.7, LatenessRate: 0.1, QualityAverage: 3.5},
		VolumeSaturation: 20,
	},
	FormulaAgreementHeavyV2: {
		ID:               FormulaAgreementHeavyV2,
		Weights:          FormulaWeights{Agreement: 0.6, Timeliness: 0.2, Quality: 0.15, Volume: 0.05},
		Defaults:         FormulaDefaults{AgreementRate: 0.6, LatenessRate: 0.15, QualityAverage: 3.0},
		VolumeSaturation: 30,
	},
	FormulaQualityHeavyV2: {
		ID:               FormulaQualityHeavyV2,
		Weights:          FormulaWeights{Agreement: 0.3, Timeliness: 0.2, Quality: 0.4, Volume: 0.1},
		Defaults:         FormulaDefaults{AgreementRate: 0.7, LatenessRate: 0.1, QualityAverage: 3.0},
		VolumeSaturation: 20,
	},
}

func LookupFormula(id string) (Formula, error) {
	formula, ok := builtinFormulas[id]
	if !ok {
		return Formula{}, fmt.Errorf("unknown reliability formula %q", id)
	}
	return formula, nil
}

func BuiltinFormulaIDs() []string {
	ids := make([]string, 0, len(builtinFormulas))
	for id := range builtinFormulas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate возвращает оценку доверия в [0, 1].
func (f Formula) Evaluate(m models.ReliabilityMetrics) float64 {
	agreement := f.Defaults.AgreementRate
	if m.AgreementRate != nil {
		agreement = *m.AgreementRate
	}

	lateness := f.Defaults.LatenessRate
	if m.LatenessRate != nil {
		lateness = *m.LatenessRate
	}

	quality := f.Defaults.QualityAverage
	if m.QualityAverage != nil {
		quality = *m.QualityAverage
	}

	volume := 0.0
	if f.VolumeSaturation > 0 {
		volume = math.Min(float64(m.Volume)/float64(f.VolumeSaturation), 1)
	}

	w := f.Weights
	total := w.Agreement + w.Timeliness + w.Quality + w.Volume
	if total <= 0 {
		return 0
	}

	score := w.Agreement*clamp01(agreement) +
		w.Timeliness*clamp01(1-lateness) +
		w.Quality*clamp01(quality/maxQualityRating) +
		w.Volume*volume

	return round4(score / total)
}

type ScoreReport struct {
	FormulaID string               `json:"formula_id"`
	Active    float64              `json:"active"`
	Shadows   []models.ShadowScore `json:"shadows,omitempty"`
}

// ReliabilityScorer считает активную формулу и теневые формулы по одному снимку метрик.
// Теневые результаты только сравниваются и не влияют на активную оценку.
type ReliabilityScorer struct {
	active  Formula
	shadows []Formula
}

func NewReliabilityScorer(active Formula, shadows ...Formula) *ReliabilityScorer {
	filtered := make([]Formula, 0, len(shadows))
	for _, shadow := range shadows {
		if shadow.ID == active.ID {
			continue
		}
		filtered = append(filtered, shadow)
	}

	return &ReliabilityScorer{
		active:  active,
		shadows: filtered,
	}
}

func NewReliabilityScorerFromIDs(activeID string, shadowIDs []string) (*ReliabilityScorer, error) {
	active, err := LookupFormula(activeID)
	if err != nil {
		return nil, err
	}

	shadows := make([]Formula, 0, len(shadowIDs))
	for _, id := range shadowIDs {
		shadow, err := LookupFormula(id)
		if err != nil {
			return nil, err
		}
		shadows = append(shadows, shadow)
	}

	return NewReliabilityScorer(active, shadows...), nil
}

func (s *ReliabilityScorer) ActiveFormula() Formula {
	return s.active
}

func (s *ReliabilityScorer) ShadowFormulas() []Formula {
	return append([]Formula(nil), s.shadows...)
}

func (s *ReliabilityScorer) Score(m models.ReliabilityMetrics) ScoreReport {
	report := ScoreReport{
		FormulaID: s.active.ID,
		Active:    s.active.Evaluate(m),
	}

	for _, shadow := range s.shadows {
		score := shadow.Evaluate(m)
		report.Shadows = append(report.Shadows, models.ShadowScore{
			FormulaID: shadow.ID,
			Score:     score,
			Delta:     round4(score - report.Active),
		})
	}

	return report
}

type BadReviewerThresholds struct {
	MaxLatenessRate      float64
	MinAgreementRate     float64
	MaxHighDivergence    int
	MinQualityAverage    float64
	MinVolumeForRateRule int
}

func DefaultBadReviewerThresholds() BadReviewerThresholds {
	return BadReviewerThresholds{
		MaxLatenessRate:      0.4,
		MinAgreementRate:     0.5,
		MaxHighDivergence:    3,
		MinQualityAverage:    2.0,
		MinVolumeForRateRule: 5,
	}
}

// IdentifyBad проверяет метрики на пороги. Правила по долям применяются только при
// достаточном объеме, счетчик сильных расхождений проверяется всегда.
func IdentifyBad(m models.ReliabilityMetrics, th BadReviewerThresholds) (bool, []string) {
	var reasons []string

	enoughVolume := m.Volume >= th.MinVolumeForRateRule

	if enoughVolume && m.LatenessRate != nil && *m.LatenessRate >= th.MaxLatenessRate {
		reasons = append(reasons, fmt.Sprintf("chronic lateness: %.0f%% of reviews late", *m.LatenessRate*100))
	}
	if enoughVolume && m.AgreementRate != nil && *m.AgreementRate < th.MinAgreementRate {
		reasons = append(reasons, fmt.Sprintf("low agreement with consensus: %.0f%%", *m.AgreementRate*100))
	}
	if th.MaxHighDivergence > 0 && m.HighDivergenceCount >= th.MaxHighDivergence {
		reasons = append(reasons, fmt.Sprintf("repeated high-divergence reviews: %d", m.HighDivergenceCount))
	}
	if enoughVolume && m.QualityAverage != nil && *m.QualityAverage < th.MinQualityAverage {
		reasons = append(reasons, fmt.Sprintf("low quality rating average: %.2f", *m.QualityAverage))
	}

	return len(reasons) > 0, reasons
}

func Classify(score float64, bad bool) models.ReliabilityStatus {
	switch {
	case bad:
		return models.ReliabilityStatusAtRisk
	case score >= ExcellentScoreThreshold:
		return models.ReliabilityStatusExcellent
	default:
		return models.ReliabilityStatusGood
	}
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
