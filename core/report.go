package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type PairOutcome string

const (
	PairOutcomeDone       PairOutcome = "DONE"
	PairOutcomePartial    PairOutcome = "PARTIAL"
	PairOutcomeSkipped    PairOutcome = "SKIPPED"
	PairOutcomeNotStarted PairOutcome = "NOT_STARTED"
)

type RunKind string

const (
	RunKindProvision RunKind = "provision"
	RunKindReconcile RunKind = "reconcile"
)

// OperationResult records one atomic unit of work: a single grant added or
// removed, or a single resource ensured, for one identity or resource.
type OperationResult struct {
	Action   string `json:"action"`
	Subject  string `json:"subject"`
	Resource string `json:"resource,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (r OperationResult) Failed() bool {
	return r.Error != ""
}

// PairReport is the outcome of one (entity, system, variant) pair. Reason is
// populated for PARTIAL, SKIPPED, and NOT_STARTED outcomes.
type PairReport struct {
	System     string            `json:"system"`
	Variant    Variant           `json:"variant"`
	Outcome    PairOutcome       `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	Added      int               `json:"added"`
	Removed    int               `json:"removed"`
	Unchanged  int               `json:"unchanged"`
	Operations []OperationResult `json:"operations,omitempty"`
}

func (p PairReport) FailedOperations() []OperationResult {
	var failed []OperationResult
	for _, op := range p.Operations {
		if op.Failed() {
			failed = append(failed, op)
		}
	}
	return failed
}

type EntityReport struct {
	Entity  Entity       `json:"entity"`
	Outcome PairOutcome  `json:"outcome"`
	Reason  string       `json:"reason,omitempty"`
	Pairs   []PairReport `json:"pairs"`
}

// Rollup derives the entity-level outcome from its pairs: all DONE or
// SKIPPED rolls up to DONE, any PARTIAL or NOT_STARTED degrades the entity.
func (e *EntityReport) Rollup() {
	if e.Outcome == PairOutcomeNotStarted {
		return
	}
	outcome := PairOutcomeDone
	for _, pair := range e.Pairs {
		switch pair.Outcome {
		case PairOutcomePartial, PairOutcomeNotStarted:
			outcome = PairOutcomePartial
		}
	}
	e.Outcome = outcome
}

type RunReport struct {
	RunID      string         `json:"run_id"`
	Kind       RunKind        `json:"kind"`
	Mode       string         `json:"mode,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Entities   []EntityReport `json:"entities"`
}

func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clean reports whether every entity completed without degradation.
func (r RunReport) Clean() bool {
	for _, entity := range r.Entities {
		if entity.Outcome != PairOutcomeDone {
			return false
		}
	}
	return true
}

// SortEntities orders entities by type then base name so rendered summaries
// are stable across runs regardless of worker completion order.
func (r *RunReport) SortEntities() {
	sort.Slice(r.Entities, func(left int, right int) bool {
		a := r.Entities[left].Entity
		b := r.Entities[right].Entity
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.BaseName < b.BaseName
	})
}

// Summary renders the operator-facing text block: one line per entity, one
// indented line per pair, failure reasons attached to degraded pairs.
func (r RunReport) Summary() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s run %s (%s)\n", r.Kind, r.RunID, r.Duration().Round(time.Millisecond))
	for _, entity := range r.Entities {
		fmt.Fprintf(&builder, "%s: %s", entity.Entity, entity.Outcome)
		if entity.Reason != "" {
			fmt.Fprintf(&builder, " (%s)", entity.Reason)
		}
		builder.WriteString("\n")
		for _, pair := range entity.Pairs {
			fmt.Fprintf(&builder, "  %s/%s: %s", pair.System, pair.Variant, pair.Outcome)
			if pair.Added > 0 || pair.Removed > 0 {
				fmt.Fprintf(&builder, " (+%d/-%d)", pair.Added, pair.Removed)
			}
			if pair.Reason != "" {
				fmt.Fprintf(&builder, " %s", pair.Reason)
			}
			builder.WriteString("\n")
		}
	}
	return builder.String()
}
