package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/repository"
)

type AuditArchive interface {
	Archive(ctx context.Context, report *models.AuditReport) (string, error)
	Load(ctx context.Context, key string) (*models.AuditReport, error)
}

type auditArchive struct {
	store  repository.ObjectStore
	prefix string
	logger zerolog.Logger
}

func NewAuditArchive(store repository.ObjectStore, prefix string, logger zerolog.Logger) AuditArchive {
	if prefix == "" {
		prefix = "audits"
	}

	return &auditArchive{
		store:  store,
		prefix: prefix,
		logger: logger,
	}
}

func ArchiveKey(prefix string, report *models.AuditReport) string {
	return path.Join(prefix, report.StartedAt.UTC().Format("2006/01/02"), report.ID+".json")
}

func (a *auditArchive) Archive(ctx context.Context, report *models.AuditReport) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit report: %w", err)
	}

	key := ArchiveKey(a.prefix, report)
	if err := a.store.PutObject(ctx, key, body, "application/json"); err != nil {
		return "", fmt.Errorf("failed to archive audit report: %w", err)
	}

	a.logger.Info().
		Str("audit_id", report.ID).
		Str("key", key).
		Msg("Audit report archived")

	return key, nil
}

func (a *auditArchive) Load(ctx context.Context, key string) (*models.AuditReport, error) {
	body, err := a.store.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}

	var report models.AuditReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit report: %w", err)
	}

	return &report, nil
}
