package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
)

// memDB - общее in-memory хранилище для фейковых репозиториев.
type memDB struct {
	mu sync.Mutex

	submissions map[string]*models.Submission
	assignments []*models.ReviewAssignment
	reviews     []models.PeerReview
	votes       []models.JudgmentVote
	reviewers   []string
	metrics     map[string]models.ReliabilityMetrics
	scores      []models.ReliabilityScoreRecord
	txs         []models.LedgerTransaction
	balances    map[string]float64
	auditRuns   []models.AuditReport

	failures map[string][]error
	calls    map[string]int
}

func newMemDB() *memDB {
	return &memDB{
		submissions: make(map[string]*models.Submission),
		metrics:     make(map[string]models.ReliabilityMetrics),
		balances:    make(map[string]float64),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
	}
}

// failNext ставит ошибки в очередь для операции op, по одной на вызов.
func (db *memDB) failNext(op string, errs ...error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failures[op] = append(db.failures[op], errs...)
}

func (db *memDB) callCount(op string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[op]
}

// enter вызывается под db.mu.
func (db *memDB) enter(op string) error {
	db.calls[op]++
	queue := db.failures[op]
	if len(queue) == 0 {
		return nil
	}
	db.failures[op] = queue[1:]
	return queue[0]
}

func (db *memDB) addSubmission(s models.Submission) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.Status == "" {
		s.Status = models.SubmissionStatusAIReviewed.String()
	}
	db.submissions[s.ID] = &s
}

func (db *memDB) submission(id string) models.Submission {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.submissions[id]
}

func (db *memDB) addAssignment(a models.ReviewAssignment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.assignments = append(db.assignments, &a)
}

func (db *memDB) assignment(id string) models.ReviewAssignment {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, a := range db.assignments {
		if a.ID == id {
			return *a
		}
	}
	panic("assignment not found: " + id)
}

func (db *memDB) activeCount(submissionID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.countActiveLocked(submissionID)
}

func (db *memDB) countActiveLocked(submissionID string) int {
	count := 0
	for _, a := range db.assignments {
		if a.SubmissionID == submissionID && a.IsActive() {
			count++
		}
	}
	return count
}

func (db *memDB) addReview(r models.PeerReview) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.reviews = append(db.reviews, r)
}

func (db *memDB) addVote(v models.JudgmentVote) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.votes = append(db.votes, v)
}

func (db *memDB) transactions(accountID string) []models.LedgerTransaction {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.LedgerTransaction
	for _, tx := range db.txs {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out
}

func (db *memDB) balance(accountID string) float64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.balances[accountID]
}

type fakeSubmissionRepo struct{ db *memDB }

func (f fakeSubmissionRepo) GetByID(_ context.Context, id string) (*models.Submission, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("submission.get"); err != nil {
		return nil, err
	}
	s, ok := f.db.submissions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f fakeSubmissionRepo) MarkUnderReview(_ context.Context, id string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("submission.mark_under_review"); err != nil {
		return false, err
	}
	s, ok := f.db.submissions[id]
	if !ok || !models.IsAwaitingReviewStatus(s.Status) {
		return false, nil
	}
	s.Status = models.SubmissionStatusUnderPeerReview.String()
	return true, nil
}

func (f fakeSubmissionRepo) MarkDisputed(_ context.Context, id string, reviewCount int, conflictSummary string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("submission.mark_disputed"); err != nil {
		return false, err
	}
	s, ok := f.db.submissions[id]
	if !ok || !models.IsAwaitingReviewStatus(s.Status) {
		return false, nil
	}
	s.Status = models.SubmissionStatusDisputed.String()
	s.ReviewCount = reviewCount
	s.ConflictSummary = &conflictSummary
	s.FlagCount++
	return true, nil
}

func (f fakeSubmissionRepo) Finalize(_ context.Context, id string, finalScore, confidence float64, reviewCount int, fromStatuses []string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("submission.finalize"); err != nil {
		return false, err
	}
	s, ok := f.db.submissions[id]
	if !ok || !containsString(fromStatuses, s.Status) {
		return false, nil
	}
	s.Status = models.SubmissionStatusFinalized.String()
	s.FinalScore = &finalScore
	s.Confidence = &confidence
	s.ReviewCount = reviewCount
	return true, nil
}

func (f fakeSubmissionRepo) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	existing := make(map[string]bool)
	for _, id := range ids {
		if _, ok := f.db.submissions[id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

type fakeAssignmentRepo struct{ db *memDB }

func (f fakeAssignmentRepo) Create(_ context.Context, assignment *models.ReviewAssignment) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("assignment.create"); err != nil {
		return err
	}
	return f.insertLocked(assignment)
}

// insertLocked повторяет частичный уникальный индекс review_assignments_active_uniq.
func (f fakeAssignmentRepo) insertLocked(assignment *models.ReviewAssignment) error {
	for _, a := range f.db.assignments {
		if a.SubmissionID == assignment.SubmissionID && a.ReviewerID == assignment.ReviewerID && a.IsActive() {
			return fmt.Errorf("%w: submission %s reviewer %s",
				repository.ErrActiveAssignmentExists, assignment.SubmissionID, assignment.ReviewerID)
		}
	}
	copied := *assignment
	f.db.assignments = append(f.db.assignments, &copied)
	return nil
}

func (f fakeAssignmentRepo) GetByID(_ context.Context, id string) (*models.ReviewAssignment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("assignment.get"); err != nil {
		return nil, err
	}
	for _, a := range f.db.assignments {
		if a.ID == id {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (f fakeAssignmentRepo) ListBySubmission(_ context.Context, submissionID string) ([]models.ReviewAssignment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("assignment.list"); err != nil {
		return nil, err
	}
	var out []models.ReviewAssignment
	for _, a := range f.db.assignments {
		if a.SubmissionID == submissionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f fakeAssignmentRepo) CountActiveBySubmission(_ context.Context, submissionID string) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("assignment.count_active"); err != nil {
		return 0, err
	}
	return f.db.countActiveLocked(submissionID), nil
}

func (f fakeAssignmentRepo) Start(_ context.Context, id, reviewerID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, a := range f.db.assignments {
		if a.ID == id && a.ReviewerID == reviewerID && a.Status == models.AssignmentStatusPending.String() {
			a.Status = models.AssignmentStatusInProgress.String()
			return true, nil
		}
	}
	return false, nil
}

func (f fakeAssignmentRepo) ReleaseAndReplace(_ context.Context, id, reason string, replacement *models.ReviewAssignment) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("assignment.release"); err != nil {
		return false, err
	}

	var target *models.ReviewAssignment
	for _, a := range f.db.assignments {
		if a.ID == id {
			target = a
		}
	}
	if target == nil {
		return false, nil
	}
	switch models.AssignmentStatus(target.Status) {
	case models.AssignmentStatusPending, models.AssignmentStatusInProgress, models.AssignmentStatusMissed:
	default:
		return false, nil
	}

	previous := *target
	target.Status = models.AssignmentStatusReleased.String()
	target.ReleaseReason = &reason

	if replacement != nil {
		if err := f.insertLocked(replacement); err != nil {
			// откат как в транзакции
			*target = previous
			return false, err
		}
	}
	return true, nil
}

func (f fakeAssignmentRepo) MarkMissedExpired(_ context.Context, now time.Time, limit int) ([]models.ReviewAssignment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("assignment.mark_missed"); err != nil {
		return nil, err
	}
	var out []models.ReviewAssignment
	for _, a := range f.db.assignments {
		if len(out) >= limit {
			break
		}
		if a.IsActive() && a.Deadline.Before(now) {
			a.Status = models.AssignmentStatusMissed.String()
			out = append(out, *a)
		}
	}
	return out, nil
}

type fakeReviewRepo struct{ db *memDB }

func (f fakeReviewRepo) CompleteAssignment(_ context.Context, review *models.PeerReview, completedAt time.Time) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("review.complete"); err != nil {
		return false, err
	}
	for _, a := range f.db.assignments {
		if a.ID != review.AssignmentID {
			continue
		}
		if !a.IsActive() {
			return false, nil
		}
		a.Status = models.AssignmentStatusCompleted.String()
		at := completedAt
		a.CompletedAt = &at
		f.db.reviews = append(f.db.reviews, *review)
		return true, nil
	}
	return false, nil
}

func (f fakeReviewRepo) ListBySubmission(_ context.Context, submissionID string) ([]models.PeerReview, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("review.list"); err != nil {
		return nil, err
	}
	var out []models.PeerReview
	for _, r := range f.db.reviews {
		if r.SubmissionID == submissionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeReviewRepo) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	existing := make(map[string]bool)
	for _, id := range ids {
		for _, r := range f.db.reviews {
			if r.ID == id {
				existing[id] = true
			}
		}
	}
	return existing, nil
}

type fakeVoteRepo struct{ db *memDB }

func (f fakeVoteRepo) Create(_ context.Context, vote *models.JudgmentVote) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, v := range f.db.votes {
		if v.VoterID == vote.VoterID && v.SubmissionID == vote.SubmissionID {
			return repository.ErrDuplicateVote
		}
	}
	f.db.votes = append(f.db.votes, *vote)
	return nil
}

func (f fakeVoteRepo) ListBySubmission(_ context.Context, submissionID string) ([]models.JudgmentVote, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.JudgmentVote
	for _, v := range f.db.votes {
		if v.SubmissionID == submissionID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f fakeVoteRepo) ListSince(_ context.Context, since time.Time, limit int) ([]models.JudgmentVote, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.JudgmentVote
	for _, v := range f.db.votes {
		if !v.CreatedAt.Before(since) && len(out) < limit {
			out = append(out, v)
		}
	}
	return out, nil
}

type fakePoolRepo struct{ db *memDB }

// FindEligibleReviewers отдает рецензентов в порядке добавления, без учета нагрузки.
func (f fakePoolRepo) FindEligibleReviewers(_ context.Context, excludeIDs []string, count int) ([]string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("pool.find"); err != nil {
		return nil, err
	}
	var out []string
	for _, id := range f.db.reviewers {
		if len(out) >= count {
			break
		}
		if !containsString(excludeIDs, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeReliabilityRepo struct{ db *memDB }

func (f fakeReliabilityRepo) ComputeMetrics(_ context.Context, reviewerID string, _, _ float64) (*models.ReliabilityMetrics, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("reliability.compute"); err != nil {
		return nil, err
	}
	m, ok := f.db.metrics[reviewerID]
	if !ok {
		m = models.ReliabilityMetrics{ReviewerID: reviewerID}
	}
	return &m, nil
}

func (f fakeReliabilityRepo) SaveScores(_ context.Context, records []models.ReliabilityScoreRecord) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.scores = append(f.db.scores, records...)
	return nil
}

func (f fakeReliabilityRepo) GetLatestScores(_ context.Context, reviewerID string) ([]models.ReliabilityScoreRecord, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.ReliabilityScoreRecord
	for _, r := range f.db.scores {
		if r.ReviewerID == reviewerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeReliabilityRepo) GetActiveScores(_ context.Context, reviewerIDs []string) (map[string]float64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := make(map[string]float64)
	for _, r := range f.db.scores {
		if r.IsActive && containsString(reviewerIDs, r.ReviewerID) {
			out[r.ReviewerID] = r.Score
		}
	}
	return out, nil
}

func (f fakeReliabilityRepo) ListRecentReviewers(_ context.Context, limit int) ([]string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	ids := make([]string, 0, len(f.db.metrics))
	for id := range f.db.metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type fakeLedgerRepo struct{ db *memDB }

func (f fakeLedgerRepo) AppendTransaction(_ context.Context, tx *models.LedgerTransaction) (float64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("ledger.append"); err != nil {
		return 0, err
	}
	f.db.txs = append(f.db.txs, *tx)
	f.db.balances[tx.AccountID] = cents(f.db.balances[tx.AccountID] + tx.Amount)
	return f.db.balances[tx.AccountID], nil
}

func (f fakeLedgerRepo) GetRunningTotal(_ context.Context, accountID string) (float64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("ledger.total"); err != nil {
		return 0, err
	}
	return f.db.balances[accountID], nil
}

func (f fakeLedgerRepo) ListTransactions(_ context.Context, accountID string, filter models.TransactionFilter) ([]models.LedgerTransaction, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("ledger.list"); err != nil {
		return nil, err
	}
	var out []models.LedgerTransaction
	for _, tx := range f.db.txs {
		if tx.AccountID != accountID {
			continue
		}
		if len(filter.Types) > 0 && !containsString(filter.Types, tx.Type) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (f fakeLedgerRepo) ListAccountIDs(_ context.Context) ([]string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for id := range f.db.balances {
		seen[id] = true
		ids = append(ids, id)
	}
	for _, tx := range f.db.txs {
		if !seen[tx.AccountID] {
			seen[tx.AccountID] = true
			ids = append(ids, tx.AccountID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f fakeLedgerRepo) ApplyCorrection(_ context.Context, observedTotal, ledgerTotal float64, correction *models.LedgerTransaction) (float64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if err := f.db.enter("ledger.apply_correction"); err != nil {
		return 0, err
	}
	current := f.db.balances[correction.AccountID]
	if math.Abs(current-observedTotal) > 0.001 {
		return 0, fmt.Errorf("%w: account %s", repository.ErrBalanceChanged, correction.AccountID)
	}
	f.db.balances[correction.AccountID] = ledgerTotal
	f.db.txs = append(f.db.txs, *correction)
	return ledgerTotal, nil
}

func (f fakeLedgerRepo) SaveAuditRun(_ context.Context, report *models.AuditReport) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.auditRuns = append(f.db.auditRuns, *report)
	return nil
}

type sentNotification struct {
	ReviewerID   string
	SubmissionID string
	URL          string
}

type fakeNotifier struct {
	mu        sync.Mutex
	sent      []sentNotification
	completed []models.ReviewCompletedEvent
	err       error
}

func (n *fakeNotifier) NotifyReviewAssigned(_ context.Context, reviewerID, submissionID, submissionURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{ReviewerID: reviewerID, SubmissionID: submissionID, URL: submissionURL})
	return nil
}

func (n *fakeNotifier) PublishReviewCompleted(_ context.Context, event *models.ReviewCompletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.completed = append(n.completed, *event)
	return nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (s *fakeObjectStore) PutObject(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeObjectStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return data, nil
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}

// fastRetry - политика без реальных пауз для тестов.
func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testLogger = zerolog.Nop()
