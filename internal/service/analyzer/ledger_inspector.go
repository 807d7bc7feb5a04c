package analyzer

import (
	"math"
	"sort"
	"time"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type LedgerInspectorConfig struct {
	Tolerance       float64
	DuplicateWindow time.Duration
	RapidWindow     time.Duration
}

// LedgerInspector ищет расхождения и сигнатуры гонок. Это эвристики, не доказательства.
type LedgerInspector struct {
	config LedgerInspectorConfig
}

func NewLedgerInspector(config LedgerInspectorConfig) *LedgerInspector {
	if config.Tolerance < 0 {
		config.Tolerance = 0
	}
	if config.DuplicateWindow <= 0 {
		config.DuplicateWindow = time.Second
	}
	if config.RapidWindow <= 0 {
		config.RapidWindow = 100 * time.Millisecond
	}

	return &LedgerInspector{config: config}
}

func (i *LedgerInspector) Config() LedgerInspectorConfig {
	return i.config
}

// SumTransactions не учитывает AUDIT_CORRECTION: корректировка фиксирует изменение
// итога, а не новое начисление, иначе исправление само создало бы расхождение.
func SumTransactions(txs []models.LedgerTransaction) float64 {
	var sum float64
	for _, tx := range txs {
		if tx.Type == models.TransactionTypeAuditCorrection.String() {
			continue
		}
		sum += tx.Amount
	}
	// NUMERIC(14,2) в хранилище
	return math.Round(sum*100) / 100
}

// Reconcile возвращает nil, если сохраненный итог совпадает с журналом в пределах допуска.
// Difference = журнал - сохраненный итог, то есть ровно сумма корректирующей проводки.
func (i *LedgerInspector) Reconcile(accountID string, storedTotal float64, txs []models.LedgerTransaction) *models.AccountInconsistency {
	ledgerTotal := SumTransactions(txs)
	difference := math.Round((ledgerTotal-storedTotal)*100) / 100

	if math.Abs(difference) <= i.config.Tolerance {
		return nil
	}

	return &models.AccountInconsistency{
		AccountID:   accountID,
		StoredTotal: storedTotal,
		LedgerTotal: ledgerTotal,
		Difference:  difference,
	}
}

type duplicateKey struct {
	source string
	amount float64
	txType string
	bucket int64
}

func (i *LedgerInspector) FindDuplicates(accountID string, txs []models.LedgerTransaction) []models.DuplicateTransactionGroup {
	groups := make(map[duplicateKey][]models.LedgerTransaction)
	var order []duplicateKey

	for _, tx := range txs {
		if tx.SourceRef == nil || *tx.SourceRef == "" {
			continue
		}
		key := duplicateKey{
			source: *tx.SourceRef,
			amount: tx.Amount,
			txType: tx.Type,
			bucket: tx.CreatedAt.UnixNano() / int64(i.config.DuplicateWindow),
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], tx)
	}

	var result []models.DuplicateTransactionGroup
	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}

		ids := make([]string, 0, len(members))
		for _, tx := range members {
			ids = append(ids, tx.ID)
		}

		result = append(result, models.DuplicateTransactionGroup{
			AccountID:      accountID,
			SourceRef:      key.source,
			Amount:         key.amount,
			Type:           key.txType,
			Bucket:         time.Unix(0, key.bucket*int64(i.config.DuplicateWindow)).UTC(),
			Count:          len(members),
			TransactionIDs: ids,
		})
	}

	return result
}

func (i *LedgerInspector) FindRapidPairs(accountID string, txs []models.LedgerTransaction) []models.RapidTransactionPair {
	if len(txs) < 2 {
		return nil
	}

	sorted := append([]models.LedgerTransaction(nil), txs...)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].CreatedAt.Before(sorted[b].CreatedAt)
	})

	var pairs []models.RapidTransactionPair
	for idx := 1; idx < len(sorted); idx++ {
		gap := sorted[idx].CreatedAt.Sub(sorted[idx-1].CreatedAt)
		if gap < i.config.RapidWindow {
			pairs = append(pairs, models.RapidTransactionPair{
				AccountID: accountID,
				FirstID:   sorted[idx-1].ID,
				SecondID:  sorted[idx].ID,
				GapMs:     float64(gap) / float64(time.Millisecond),
			})
		}
	}

	return pairs
}

// FindOrphans возвращает наградные проводки, чей источник отсутствует в existingSources.
func (i *LedgerInspector) FindOrphans(txs []models.LedgerTransaction, existingSources map[string]bool) []models.OrphanedTransaction {
	var orphans []models.OrphanedTransaction
	for _, tx := range txs {
		if !models.IsRewardTransactionType(tx.Type) {
			continue
		}

		source := ""
		if tx.SourceRef != nil {
			source = *tx.SourceRef
		}
		if source != "" && existingSources[source] {
			continue
		}

		orphans = append(orphans, models.OrphanedTransaction{
			TransactionID: tx.ID,
			AccountID:     tx.AccountID,
			Type:          tx.Type,
			SourceRef:     source,
		})
	}

	return orphans
}

func RewardSourceRefs(txs []models.LedgerTransaction) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, tx := range txs {
		if !models.IsRewardTransactionType(tx.Type) || tx.SourceRef == nil || *tx.SourceRef == "" {
			continue
		}
		if seen[*tx.SourceRef] {
			continue
		}
		seen[*tx.SourceRef] = true
		refs = append(refs, *tx.SourceRef)
	}
	return refs
}

func CorrectionSourceRef(auditID string) string {
	return models.SourceKindAudit + ":" + auditID
}
