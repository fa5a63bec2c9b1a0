package sqlstore

import (
	"time"

	"github.com/ateliercommun/groupsync/core"
	"github.com/uptrace/bun"
)

type runRecord struct {
	bun.BaseModel `bun:"table:sync_runs,alias:sr"`

	ID         string    `bun:"id,pk"`
	RunID      string    `bun:"run_id,notnull"`
	Kind       string    `bun:"kind,notnull"`
	Mode       string    `bun:"mode"`
	StartedAt  time.Time `bun:"started_at,nullzero,notnull"`
	FinishedAt time.Time `bun:"finished_at,nullzero,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type runEntityRecord struct {
	bun.BaseModel `bun:"table:sync_run_entities,alias:sre"`

	ID         string            `bun:"id,pk"`
	RunID      string            `bun:"run_id,notnull"`
	EntityType string            `bun:"entity_type,notnull"`
	BaseName   string            `bun:"base_name,notnull"`
	Outcome    string            `bun:"outcome,notnull"`
	Reason     string            `bun:"reason"`
	Position   int               `bun:"position,notnull"`
	Pairs      []core.PairReport `bun:"pairs,type:jsonb"`
	CreatedAt  time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:rate_limit_states,alias:rls"`

	ID         string         `bun:"id,pk"`
	SystemID   string         `bun:"system_id,notnull"`
	BucketKey  string         `bun:"bucket_key,notnull"`
	Limit      int            `bun:"limit_total,notnull"`
	Remaining  int            `bun:"remaining,notnull"`
	ResetAt    *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter *int           `bun:"retry_after_seconds"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
