package analyzer

import (
	"fmt"
	"sort"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

const (
	ReasonExtremeHighRate    = "extreme_high_rate"
	ReasonExtremeLowHighRate = "extreme_low_high_rate"
	ReasonRapidVoting        = "rapid_voting"
)

type VoteThresholds struct {
	MinBiasSample         int
	HighBiasPercentage    float64
	LowBiasPercentage     float64
	MinVelocitySample     int
	MinAvgIntervalSeconds float64
}

func DefaultVoteThresholds() VoteThresholds {
	return VoteThresholds{
		MinBiasSample:         10,
		HighBiasPercentage:    85,
		LowBiasPercentage:     15,
		MinVelocitySample:     5,
		MinAvgIntervalSeconds: 5,
	}
}

// AnalyzeVoters ищет признаки ботов и небрежного голосования. Результат только для операторов.
// Максимум и минимум берутся по всему анализируемому набору голосов.
func AnalyzeVoters(votes []models.JudgmentVote, th VoteThresholds) []models.VoterAnomaly {
	if len(votes) == 0 {
		return nil
	}

	maxScore, minScore := votes[0].Score, votes[0].Score
	byVoter := make(map[string][]models.JudgmentVote)
	for _, vote := range votes {
		if vote.Score > maxScore {
			maxScore = vote.Score
		}
		if vote.Score < minScore {
			minScore = vote.Score
		}
		byVoter[vote.VoterID] = append(byVoter[vote.VoterID], vote)
	}

	voterIDs := make([]string, 0, len(byVoter))
	for id := range byVoter {
		voterIDs = append(voterIDs, id)
	}
	sort.Strings(voterIDs)

	anomalies := make([]models.VoterAnomaly, 0, len(voterIDs))
	for _, voterID := range voterIDs {
		voterVotes := byVoter[voterID]
		sort.Slice(voterVotes, func(i, j int) bool {
			return voterVotes[i].CreatedAt.Before(voterVotes[j].CreatedAt)
		})

		high, low := 0, 0
		for _, vote := range voterVotes {
			if vote.Score == maxScore {
				high++
			}
			if vote.Score == minScore {
				low++
			}
		}

		n := len(voterVotes)
		highPct := float64(high) / float64(n) * 100
		anomaly := models.VoterAnomaly{
			VoterID:        voterID,
			VoteCount:      n,
			HighPercentage: round2(highPct),
			LowPercentage:  round2(float64(low) / float64(n) * 100),
		}

		var avgInterval float64
		if n > 1 {
			elapsed := voterVotes[n-1].CreatedAt.Sub(voterVotes[0].CreatedAt).Seconds()
			avgInterval = elapsed / float64(n-1)
			anomaly.AvgIntervalSeconds = round2(avgInterval)
		}

		if n >= th.MinBiasSample {
			if highPct > th.HighBiasPercentage {
				anomaly.Reasons = append(anomaly.Reasons,
					fmt.Sprintf("%s: %.0f%% of votes at the maximum score", ReasonExtremeHighRate, anomaly.HighPercentage))
			} else if highPct < th.LowBiasPercentage {
				anomaly.Reasons = append(anomaly.Reasons,
					fmt.Sprintf("%s: only %.0f%% of votes at the maximum score", ReasonExtremeLowHighRate, anomaly.HighPercentage))
			}
		}

		if n >= th.MinVelocitySample && n > 1 && avgInterval < th.MinAvgIntervalSeconds {
			anomaly.Reasons = append(anomaly.Reasons,
				fmt.Sprintf("%s: %.2fs average between votes", ReasonRapidVoting, avgInterval))
		}

		anomaly.Flagged = len(anomaly.Reasons) > 0
		anomalies = append(anomalies, anomaly)
	}

	return anomalies
}
