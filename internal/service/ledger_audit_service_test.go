package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
)

func seedTx(db *memDB, id, accountID string, amount float64, txType string, source *string, at time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.txs = append(db.txs, models.LedgerTransaction{
		ID:        id,
		AccountID: accountID,
		Amount:    amount,
		Type:      txType,
		SourceRef: source,
		CreatedAt: at,
	})
}

func setBalance(db *memDB, accountID string, total float64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.balances[accountID] = total
}

// driftedLedger: журнал u1 дает 80, а сохраненный итог 100.
func driftedLedger(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := newFixture(t, opts...)
	seedTx(f.db, "t1", "u1", 50, "ADMIN_ADJUSTMENT", nil, testNow.Add(-2*time.Hour))
	seedTx(f.db, "t2", "u1", 30, "ADMIN_ADJUSTMENT", nil, testNow.Add(-time.Hour))
	setBalance(f.db, "u1", 100)

	seedTx(f.db, "t3", "u2", 12.5, "PENALTY", nil, testNow.Add(-time.Hour))
	setBalance(f.db, "u2", 12.5)
	return f
}

func TestAuditCleanLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.ledger.Append(ctx, models.AppendTransactionRequest{AccountID: "u1", Amount: 5, Type: "PENALTY"})
	require.NoError(t, err)

	report, err := f.audit.Audit(ctx, models.AuditRequest{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.AccountsChecked)
	assert.Empty(t, report.Inconsistencies)
	assert.Zero(t, report.FixedCount)
	assert.Equal(t, testNow, report.StartedAt)
	require.Len(t, f.db.auditRuns, 1)
	assert.Equal(t, report.ID, f.db.auditRuns[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuditRuns.WithLabelValues("dry_run")))
}

func TestAuditDryRunReportsWithoutFixing(t *testing.T) {
	f := driftedLedger(t)

	report, err := f.audit.Audit(context.Background(), models.AuditRequest{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 2, report.AccountsChecked)
	require.Len(t, report.Inconsistencies, 1)
	inconsistency := report.Inconsistencies[0]
	assert.Equal(t, "u1", inconsistency.AccountID)
	assert.Equal(t, 100.0, inconsistency.StoredTotal)
	assert.Equal(t, 80.0, inconsistency.LedgerTotal)
	assert.Equal(t, -20.0, inconsistency.Difference)
	assert.False(t, inconsistency.Fixed)

	assert.Equal(t, 100.0, f.db.balance("u1"))
	assert.Len(t, f.db.transactions("u1"), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuditInconsistencies))
}

func TestAuditApplyCorrectsByExactDiscrepancy(t *testing.T) {
	f := driftedLedger(t)
	ctx := context.Background()

	report, err := f.audit.Audit(ctx, models.AuditRequest{})
	require.NoError(t, err)

	require.Len(t, report.Inconsistencies, 1)
	inconsistency := report.Inconsistencies[0]
	assert.True(t, inconsistency.Fixed)
	assert.Empty(t, inconsistency.FixError)
	assert.NotEmpty(t, inconsistency.CorrectionID)
	require.NotNil(t, inconsistency.TotalAfter)
	assert.Equal(t, 80.0, *inconsistency.TotalAfter)
	assert.Equal(t, 1, report.FixedCount)

	assert.Equal(t, 80.0, f.db.balance("u1"))

	txs := f.db.transactions("u1")
	require.Len(t, txs, 3)
	correction := txs[2]
	assert.Equal(t, inconsistency.CorrectionID, correction.ID)
	assert.Equal(t, models.TransactionTypeAuditCorrection.String(), correction.Type)
	assert.Equal(t, -20.0, correction.Amount)
	assert.Equal(t, "audit:"+report.ID, *correction.SourceRef)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuditFixes))

	// после исправления повторный аудит чистый
	rerun, err := f.audit.Audit(ctx, models.AuditRequest{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, rerun.Inconsistencies)
}

func TestAuditApplyRecordsFixFailure(t *testing.T) {
	f := driftedLedger(t)
	f.db.failNext("ledger.apply_correction", repository.ErrBalanceChanged)

	report, err := f.audit.Audit(context.Background(), models.AuditRequest{})
	require.NoError(t, err)

	require.Len(t, report.Inconsistencies, 1)
	assert.False(t, report.Inconsistencies[0].Fixed)
	assert.Contains(t, report.Inconsistencies[0].FixError, "running total changed")
	assert.Zero(t, report.FixedCount)
	assert.Equal(t, 100.0, f.db.balance("u1"))
	// ErrBalanceChanged не транзиентна
	assert.Equal(t, 1, f.db.callCount("ledger.apply_correction"))
}

func TestAuditLimitsToRequestedAccounts(t *testing.T) {
	f := driftedLedger(t)

	report, err := f.audit.Audit(context.Background(), models.AuditRequest{DryRun: true, AccountIDs: []string{"u2"}})
	require.NoError(t, err)

	assert.Equal(t, 1, report.AccountsChecked)
	assert.Empty(t, report.Inconsistencies)
}

func TestAuditFindsRaceSignatures(t *testing.T) {
	f := newFixture(t)
	f.db.addSubmission(underReview("s1"))
	f.db.addReview(models.PeerReview{ID: "rv1", SubmissionID: "s1", ReviewerID: "u1", Score: 70})

	base := time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)
	seedTx(f.db, "d1", "u1", 10, "REVIEW_REWARD", strPtr("review:rv1"), base)
	seedTx(f.db, "d2", "u1", 10, "REVIEW_REWARD", strPtr("review:rv1"), base.Add(20*time.Millisecond))
	seedTx(f.db, "o1", "u1", 10, "REVIEW_REWARD", strPtr("review:ghost"), base.Add(time.Minute))
	seedTx(f.db, "o2", "u1", 75, "SUBMISSION_REWARD", strPtr("submission:s1"), base.Add(2*time.Minute))
	seedTx(f.db, "o3", "u1", 75, "SUBMISSION_REWARD", strPtr("submission:gone"), base.Add(3*time.Minute))
	setBalance(f.db, "u1", 180)

	report, err := f.audit.Audit(context.Background(), models.AuditRequest{DryRun: true})
	require.NoError(t, err)

	assert.Empty(t, report.Inconsistencies)

	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, []string{"d1", "d2"}, report.Duplicates[0].TransactionIDs)
	assert.Equal(t, 2, report.Duplicates[0].Count)

	require.Len(t, report.RapidPairs, 1)
	assert.Equal(t, "d1", report.RapidPairs[0].FirstID)
	assert.Equal(t, "d2", report.RapidPairs[0].SecondID)
	assert.Equal(t, 20.0, report.RapidPairs[0].GapMs)

	orphanIDs := []string{}
	for _, orphan := range report.Orphans {
		orphanIDs = append(orphanIDs, orphan.TransactionID)
	}
	assert.ElementsMatch(t, []string{"o1", "o3"}, orphanIDs)
}

func TestAuditArchivesReport(t *testing.T) {
	store := &fakeObjectStore{}
	f := driftedLedger(t, withArchive(store))

	report, err := f.audit.Audit(context.Background(), models.AuditRequest{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, "audits/2026/10/14/"+report.ID+".json", report.ArchiveKey)
	data, err := store.GetObject(context.Background(), report.ArchiveKey)
	require.NoError(t, err)

	var archived models.AuditReport
	require.NoError(t, json.Unmarshal(data, &archived))
	assert.Equal(t, report.ID, archived.ID)
	assert.Len(t, archived.Inconsistencies, 1)
}

func TestAuditSurvivesArchiveFailure(t *testing.T) {
	store := &fakeObjectStore{err: errors.New("bucket unreachable")}
	f := driftedLedger(t, withArchive(store))

	report, err := f.audit.Audit(context.Background(), models.AuditRequest{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, report.ArchiveKey)
	assert.Len(t, report.Inconsistencies, 1)
	assert.Len(t, f.db.auditRuns, 1)
}
