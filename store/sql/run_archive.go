package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/ateliercommun/groupsync/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RunArchive persists completed run reports: one header row per run and one
// row per entity, with the pair breakdown stored as a JSON document.
type RunArchive struct {
	db         *bun.DB
	runRepo    repository.Repository[*runRecord]
	entityRepo repository.Repository[*runEntityRecord]
}

func NewRunArchive(db *bun.DB) (*RunArchive, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	runRepo := repository.NewRepository[*runRecord](db, runHandlers())
	if validator, ok := runRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid run repository wiring: %w", err)
		}
	}
	entityRepo := repository.NewRepository[*runEntityRecord](db, runEntityHandlers())
	if validator, ok := entityRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid run entity repository wiring: %w", err)
		}
	}
	return &RunArchive{
		db:         db,
		runRepo:    runRepo,
		entityRepo: entityRepo,
	}, nil
}

func (a *RunArchive) Save(ctx context.Context, report core.RunReport) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("sqlstore: run archive is not configured")
	}
	if strings.TrimSpace(report.RunID) == "" {
		return fmt.Errorf("sqlstore: run id is required")
	}
	if strings.TrimSpace(string(report.Kind)) == "" {
		return fmt.Errorf("sqlstore: run kind is required")
	}

	now := time.Now().UTC()
	header := &runRecord{
		ID:         uuid.NewString(),
		RunID:      report.RunID,
		Kind:       string(report.Kind),
		Mode:       report.Mode,
		StartedAt:  report.StartedAt.UTC(),
		FinishedAt: report.FinishedAt.UTC(),
		CreatedAt:  now,
	}

	entities := make([]*runEntityRecord, 0, len(report.Entities))
	for position, entity := range report.Entities {
		entities = append(entities, &runEntityRecord{
			ID:         uuid.NewString(),
			RunID:      report.RunID,
			EntityType: string(entity.Entity.Type),
			BaseName:   entity.Entity.BaseName,
			Outcome:    string(entity.Outcome),
			Reason:     entity.Reason,
			Position:   position,
			Pairs:      entity.Pairs,
			CreatedAt:  now,
		})
	}

	return a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(header).Exec(ctx); err != nil {
			return err
		}
		if len(entities) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&entities).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

// ListRecent returns up to limit archived reports, newest first.
func (a *RunArchive) ListRecent(ctx context.Context, limit int) ([]core.RunReport, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("sqlstore: run archive is not configured")
	}
	if limit <= 0 {
		limit = 10
	}

	var headers []runRecord
	err := a.db.NewSelect().
		Model(&headers).
		OrderExpr("?TableAlias.started_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	reports := make([]core.RunReport, 0, len(headers))
	for _, header := range headers {
		report, err := a.assembleReport(ctx, header)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (a *RunArchive) assembleReport(ctx context.Context, header runRecord) (core.RunReport, error) {
	report := core.RunReport{
		RunID:      header.RunID,
		Kind:       core.RunKind(header.Kind),
		Mode:       header.Mode,
		StartedAt:  header.StartedAt,
		FinishedAt: header.FinishedAt,
	}

	var rows []runEntityRecord
	err := a.db.NewSelect().
		Model(&rows).
		Where("?TableAlias.run_id = ?", header.RunID).
		OrderExpr("?TableAlias.position ASC").
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return core.RunReport{}, err
	}

	for _, row := range rows {
		entity := core.EntityReport{
			Entity: core.Entity{
				Type:     core.EntityType(row.EntityType),
				BaseName: row.BaseName,
			},
			Outcome: core.PairOutcome(row.Outcome),
			Reason:  row.Reason,
		}
		if len(row.Pairs) > 0 {
			entity.Pairs = append([]core.PairReport(nil), row.Pairs...)
		}
		report.Entities = append(report.Entities, entity)
	}
	return report, nil
}

var _ core.RunArchive = (*RunArchive)(nil)
