package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

type LedgerRepository interface {
	AppendTransaction(ctx context.Context, tx *models.LedgerTransaction) (float64, error)
	GetRunningTotal(ctx context.Context, accountID string) (float64, error)
	ListTransactions(ctx context.Context, accountID string, filter models.TransactionFilter) ([]models.LedgerTransaction, error)
	ListAccountIDs(ctx context.Context) ([]string, error)
	ApplyCorrection(ctx context.Context, observedTotal, ledgerTotal float64, correction *models.LedgerTransaction) (float64, error)
	SaveAuditRun(ctx context.Context, report *models.AuditReport) error
}

type ledgerRepository struct {
	*PostgresRepository
}

func NewLedgerRepository(db *sql.DB, logger zerolog.Logger) LedgerRepository {
	return &ledgerRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// AppendTransaction пишет проводку и сдвигает итог счета в одной транзакции.
func (r *ledgerRepository) AppendTransaction(ctx context.Context, transaction *models.LedgerTransaction) (float64, error) {
	var runningTotal float64

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertTransaction(ctx, tx, transaction); err != nil {
			return err
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO account_balances (account_id, running_total, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (account_id) DO UPDATE
			SET running_total = account_balances.running_total + EXCLUDED.running_total,
				updated_at = NOW()
			RETURNING running_total
		`, transaction.AccountID, transaction.Amount).Scan(&runningTotal)

		return mapError(err)
	})
	if err != nil {
		return 0, err
	}

	return runningTotal, nil
}

func insertTransaction(ctx context.Context, q querier, transaction *models.LedgerTransaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, account_id, amount, type, source_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		transaction.ID,
		transaction.AccountID,
		transaction.Amount,
		transaction.Type,
		transaction.SourceRef,
		transaction.CreatedAt,
	)

	return mapError(err)
}

// GetRunningTotal возвращает 0 для счета без строки баланса.
func (r *ledgerRepository) GetRunningTotal(ctx context.Context, accountID string) (float64, error) {
	var total float64
	err := r.db.QueryRowContext(ctx,
		`SELECT running_total FROM account_balances WHERE account_id = $1`, accountID,
	).Scan(&total)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, mapError(err)
	}

	return total, nil
}

func (r *ledgerRepository) ListTransactions(ctx context.Context, accountID string, filter models.TransactionFilter) ([]models.LedgerTransaction, error) {
	conditions := []string{"account_id = $1"}
	args := []interface{}{accountID}

	if len(filter.Types) > 0 {
		args = append(args, pq.Array(filter.Types))
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `
		SELECT id, account_id, amount, type, source_ref, created_at
		FROM ledger_transactions
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var transactions []models.LedgerTransaction
	for rows.Next() {
		var transaction models.LedgerTransaction
		var sourceRef sql.NullString

		err := rows.Scan(
			&transaction.ID,
			&transaction.AccountID,
			&transaction.Amount,
			&transaction.Type,
			&sourceRef,
			&transaction.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if sourceRef.Valid {
			transaction.SourceRef = &sourceRef.String
		}
		transactions = append(transactions, transaction)
	}

	return transactions, rows.Err()
}

func (r *ledgerRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id FROM account_balances
		UNION
		SELECT DISTINCT account_id FROM ledger_transactions
		ORDER BY account_id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var accountIDs []string
	for rows.Next() {
		var accountID string
		if err := rows.Scan(&accountID); err != nil {
			return nil, err
		}
		accountIDs = append(accountIDs, accountID)
	}

	return accountIDs, rows.Err()
}

// ApplyCorrection блокирует строку баланса, проверяет что итог не менялся с момента чтения,
// выставляет итог по журналу и пишет корректирующую проводку. Всё или ничего.
func (r *ledgerRepository) ApplyCorrection(ctx context.Context, observedTotal, ledgerTotal float64, correction *models.LedgerTransaction) (float64, error) {
	var totalAfter float64

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var current float64
		err := tx.QueryRowContext(ctx, `
			SELECT running_total FROM account_balances WHERE account_id = $1 FOR UPDATE
		`, correction.AccountID).Scan(&current)

		switch {
		case err == sql.ErrNoRows:
			current = 0
			_, err = tx.ExecContext(ctx, `
				INSERT INTO account_balances (account_id, running_total, updated_at)
				VALUES ($1, 0, NOW())
				ON CONFLICT (account_id) DO NOTHING
			`, correction.AccountID)
			if err != nil {
				return mapError(err)
			}
		case err != nil:
			return mapError(err)
		}

		if math.Abs(current-observedTotal) >= 0.005 {
			return fmt.Errorf("%w: account %s observed %.2f, now %.2f",
				ErrBalanceChanged, correction.AccountID, observedTotal, current)
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE account_balances
			SET running_total = $2, updated_at = NOW()
			WHERE account_id = $1
			RETURNING running_total
		`, correction.AccountID, ledgerTotal).Scan(&totalAfter)
		if err != nil {
			return mapError(err)
		}

		return insertTransaction(ctx, tx, correction)
	})
	if err != nil {
		return 0, err
	}

	return totalAfter, nil
}

func (r *ledgerRepository) SaveAuditRun(ctx context.Context, report *models.AuditReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal audit report: %w", err)
	}

	var archiveKey *string
	if report.ArchiveKey != "" {
		archiveKey = &report.ArchiveKey
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_runs (id, dry_run, started_at, completed_at, fixed_count, archive_key, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		report.ID,
		report.DryRun,
		report.StartedAt,
		report.CompletedAt,
		report.FixedCount,
		archiveKey,
		payload,
	)

	return mapError(err)
}
