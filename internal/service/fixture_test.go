package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/analyzer"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service/integration"
)

// Среда, 14 октября 2026, 10:00 UTC.
var testNow = time.Date(2026, time.October, 14, 10, 0, 0, 0, time.UTC)

type fixtureConfig struct {
	consensus analyzer.ConsensusConfig
	rewards   RewardConfig
	archive   repository.ObjectStore
}

type fixtureOption func(*fixtureConfig)

func withConsensus(config analyzer.ConsensusConfig) fixtureOption {
	return func(c *fixtureConfig) { c.consensus = config }
}

func withRewards(rewards RewardConfig) fixtureOption {
	return func(c *fixtureConfig) { c.rewards = rewards }
}

func withArchive(store repository.ObjectStore) fixtureOption {
	return func(c *fixtureConfig) { c.archive = store }
}

type fixture struct {
	db       *memDB
	notifier *fakeNotifier
	metrics  *metrics.Metrics

	assignments *assignmentService
	reshuffle   *reshuffleService
	reliability *reliabilityService
	ledger      *ledgerService
	consensus   *consensusService
	reviews     *reviewService
	audit       *ledgerAuditService
	sweep       *sweepService
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	config := fixtureConfig{
		consensus: analyzer.ConsensusConfig{DivergenceThreshold: 50},
	}
	for _, opt := range opts {
		opt(&config)
	}

	db := newMemDB()
	notifier := &fakeNotifier{}
	m := metrics.New(prometheus.NewRegistry())
	clock := fixedClock(testNow)

	submissionRepo := fakeSubmissionRepo{db: db}
	assignmentRepo := fakeAssignmentRepo{db: db}
	reviewRepo := fakeReviewRepo{db: db}
	voteRepo := fakeVoteRepo{db: db}
	poolRepo := fakePoolRepo{db: db}
	reliabilityRepo := fakeReliabilityRepo{db: db}
	ledgerRepo := fakeLedgerRepo{db: db}

	assignmentConfig := AssignmentConfig{
		MinimumReviewers:  3,
		Deadline:          analyzer.NewDeadlinePolicy(48*time.Hour, time.UTC),
		SubmissionURLBase: "https://scholars.test/submissions/",
	}

	scorer, err := analyzer.NewReliabilityScorerFromIDs(analyzer.FormulaBalancedV1,
		[]string{analyzer.FormulaAgreementHeavyV2})
	require.NoError(t, err)

	f := &fixture{db: db, notifier: notifier, metrics: m}

	f.assignments = NewAssignmentService(submissionRepo, assignmentRepo, poolRepo, notifier,
		assignmentConfig, fastRetry(), m, testLogger).(*assignmentService)
	f.assignments.now = clock

	f.reshuffle = NewReshuffleService(submissionRepo, assignmentRepo, poolRepo, notifier,
		assignmentConfig, fastRetry(), m, testLogger).(*reshuffleService)
	f.reshuffle.now = clock

	f.reliability = NewReliabilityService(reliabilityRepo, voteRepo, scorer,
		DefaultReliabilityConfig(), m, testLogger).(*reliabilityService)
	f.reliability.now = clock

	f.ledger = NewLedgerService(ledgerRepo, fastRetry(), m, testLogger).(*ledgerService)
	f.ledger.now = clock

	f.consensus = NewConsensusService(submissionRepo, assignmentRepo, reviewRepo, voteRepo, reliabilityRepo,
		analyzer.NewConsensusCalculator(config.consensus), f.reliability, f.ledger,
		ConsensusConfig{Rewards: config.rewards}, fastRetry(), m, testLogger).(*consensusService)
	f.consensus.now = clock

	f.reviews = NewReviewService(assignmentRepo, reviewRepo, f.consensus, notifier,
		fastRetry(), testLogger).(*reviewService)
	f.reviews.now = clock

	var archive integration.AuditArchive
	if config.archive != nil {
		archive = integration.NewAuditArchive(config.archive, "audits", testLogger)
	}
	inspector := analyzer.NewLedgerInspector(analyzer.LedgerInspectorConfig{Tolerance: 0.01})
	f.audit = NewLedgerAuditService(ledgerRepo, submissionRepo, reviewRepo, inspector, archive,
		fastRetry(), m, testLogger).(*ledgerAuditService)
	f.audit.now = clock

	f.sweep = NewSweepService(assignmentRepo, f.reshuffle, 0, fastRetry(), m, testLogger).(*sweepService)

	return f
}
