package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ReconcileMode string

const (
	ModeAdditive ReconcileMode = "ADDITIVE"
	ModeFull     ReconcileMode = "FULL"
)

func ParseReconcileMode(raw string) (ReconcileMode, error) {
	switch ReconcileMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModeAdditive:
		return ModeAdditive, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", fmt.Errorf("core: unknown reconcile mode: %s", raw)
	}
}

type ReconcileRequest struct {
	Mode     ReconcileMode
	Entities []Entity
	Skip     map[string]bool
}

func (r ReconcileRequest) Validate() error {
	switch r.Mode {
	case ModeAdditive, ModeFull:
	default:
		return fmt.Errorf("core: unknown reconcile mode: %s", r.Mode)
	}
	for _, entity := range r.Entities {
		if err := entity.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// pair states; a pair that never leaves pending is reported NOT_STARTED.
const (
	pairStatePending  = "PENDING"
	pairStateDiffed   = "DIFFED"
	pairStateApplying = "APPLYING"
)

// Reconciler drives grants in every bound system toward the membership of
// the source chat channels. ADDITIVE only adds and is monotonic; FULL also
// removes and converges. Failures stay scoped: one grant, one system, or
// one entity failing never aborts the rest of the run.
type Reconciler struct {
	config     Config
	registry   Registry
	matrix     *PermissionsMatrix
	membership MembershipSource
	runArchive RunArchive
	obs        observer
	excluded   map[string]bool
	now        func() time.Time
}

func NewReconciler(cfg Config, options ...Option) (*Reconciler, error) {
	builder := defaultEngineBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	finalConfig, err := builder.resolve("reconcile")
	if err != nil {
		return nil, err
	}
	if builder.matrix == nil {
		return nil, fmt.Errorf("core: reconciler requires a permissions matrix")
	}
	if builder.membership == nil {
		return nil, fmt.Errorf("core: reconciler requires a membership source")
	}
	if err := builder.matrix.Validate(builder.registry); err != nil {
		return nil, err
	}
	return &Reconciler{
		config:     finalConfig,
		registry:   builder.registry,
		matrix:     builder.matrix,
		membership: builder.membership,
		runArchive: builder.runArchive,
		obs:        observer{logger: builder.logger, metricsRecorder: builder.metricsRecorder},
		excluded:   ExcludedSet(finalConfig.ExcludedUsers),
		now:        builder.now,
	}, nil
}

// authBreaker trips per system on the first credential rejection and
// short-circuits the system's remaining pairs for the rest of the run.
type authBreaker struct {
	mu      sync.RWMutex
	tripped map[string]bool
}

func newAuthBreaker() *authBreaker {
	return &authBreaker{tripped: map[string]bool{}}
}

func (b *authBreaker) Trip(systemID string) {
	b.mu.Lock()
	b.tripped[systemID] = true
	b.mu.Unlock()
}

func (b *authBreaker) Tripped(systemID string) bool {
	b.mu.RLock()
	tripped := b.tripped[systemID]
	b.mu.RUnlock()
	return tripped
}

func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (RunReport, error) {
	if r == nil {
		return RunReport{}, fmt.Errorf("core: reconciler is nil")
	}
	startedAt := r.now()
	if err := req.Validate(); err != nil {
		return RunReport{}, ensureSyncErrorEnvelope(newConfigError(err.Error()))
	}

	entities := req.Entities
	if len(entities) == 0 {
		discovered, err := r.membership.DiscoverEntities(ctx)
		if err != nil {
			return RunReport{}, syncErrorMapper(err)
		}
		entities = discovered
	}

	report := RunReport{
		RunID:     uuid.NewString(),
		Kind:      RunKindReconcile,
		Mode:      string(req.Mode),
		StartedAt: startedAt,
	}

	breaker := newAuthBreaker()
	reports := make([]EntityReport, len(entities))
	semaphore := make(chan struct{}, r.config.Concurrency)
	var wg sync.WaitGroup
	for index, entity := range entities {
		if ctx.Err() != nil {
			reports[index] = EntityReport{
				Entity:  entity,
				Outcome: PairOutcomeNotStarted,
				Reason:  "run cancelled",
			}
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(index int, entity Entity) {
			defer wg.Done()
			defer func() { <-semaphore }()
			entityReport := r.reconcileEntity(context.WithoutCancel(ctx), entity, req, breaker)
			entityReport.Rollup()
			reports[index] = entityReport
		}(index, entity)
	}
	wg.Wait()

	report.Entities = reports
	report.FinishedAt = r.now()
	report.SortEntities()

	r.obs.observeOperation(ctx, startedAt, "reconcile_run", nil, map[string]any{
		"run_id":   report.RunID,
		"mode":     string(req.Mode),
		"entities": len(entities),
	})
	r.archive(ctx, report)
	return report, nil
}

// reconcileEntity fans the entity's bound systems out concurrently;
// systems are independent of each other, while grant operations within one
// pair stay sequential.
func (r *Reconciler) reconcileEntity(
	ctx context.Context,
	entity Entity,
	req ReconcileRequest,
	breaker *authBreaker,
) EntityReport {
	specs := r.matrix.SpecsFor(entity.Type)
	entityReport := EntityReport{Entity: entity, Pairs: make([]PairReport, len(specs))}

	var wg sync.WaitGroup
	for index, spec := range specs {
		wg.Add(1)
		go func(index int, spec ResourceSpec) {
			defer wg.Done()
			entityReport.Pairs[index] = r.reconcilePair(ctx, entity, spec, req, breaker)
		}(index, spec)
	}
	wg.Wait()
	return entityReport
}

func (r *Reconciler) reconcilePair(
	ctx context.Context,
	entity Entity,
	spec ResourceSpec,
	req ReconcileRequest,
	breaker *authBreaker,
) PairReport {
	pair := PairReport{System: spec.System, Variant: spec.Variant}
	state := pairStatePending

	if req.Skip[spec.System] {
		pair.Outcome = PairOutcomeSkipped
		pair.Reason = "skipped by option"
		return pair
	}
	if breaker.Tripped(spec.System) {
		pair.Outcome = PairOutcomeNotStarted
		pair.Reason = "system credentials rejected earlier in run"
		return pair
	}

	adapter, ok := r.registry.Get(spec.System)
	if !ok {
		pair.Outcome = PairOutcomePartial
		pair.Reason = fmt.Sprintf("system %s not registered", spec.System)
		return pair
	}

	ref, found, err := r.resolveRef(ctx, adapter, entity, spec)
	if err != nil {
		if IsAuthError(err) {
			breaker.Trip(spec.System)
		}
		pair.Outcome = PairOutcomePartial
		pair.Reason = "resolution failed: " + err.Error()
		return pair
	}
	if !found {
		pair.Outcome = PairOutcomeSkipped
		pair.Reason = "resource not found, run provisioning first"
		r.obs.logInfo(ctx, "resource missing during reconciliation", map[string]any{
			"system": spec.System,
			"entity": entity.String(),
		})
		return pair
	}

	desired, err := r.channelMembers(ctx, entity, spec.Variant)
	if err != nil {
		pair.Outcome = PairOutcomePartial
		pair.Reason = "membership read failed: " + err.Error()
		return pair
	}
	actual, err := r.listGrants(ctx, adapter, ref)
	if err != nil {
		if IsAuthError(err) {
			breaker.Trip(spec.System)
		}
		pair.Outcome = PairOutcomePartial
		pair.Reason = "grant listing failed: " + err.Error()
		return pair
	}

	plan := ComputePlan(desired, actual, r.excluded)
	state = pairStateDiffed
	pair.Unchanged = len(plan.Unchanged)

	if plan.Empty() {
		pair.Outcome = PairOutcomeDone
		return pair
	}

	state = pairStateApplying
	failed := 0
	aborted := false
	for _, identity := range plan.ToAdd {
		if aborted {
			pair.Operations = append(pair.Operations, OperationResult{
				Action: "add", Subject: identity.Key(), Resource: ref.Name,
				Error: "not attempted, system credentials rejected",
			})
			failed++
			continue
		}
		op, opErr := r.applyGrant(ctx, adapter, ref, identity, "add")
		if opErr != nil {
			failed++
			if IsAuthError(opErr) {
				breaker.Trip(spec.System)
				aborted = true
			}
		} else {
			pair.Added++
		}
		pair.Operations = append(pair.Operations, op)
	}
	if req.Mode == ModeFull {
		for _, identity := range plan.ToRemove {
			if aborted {
				pair.Operations = append(pair.Operations, OperationResult{
					Action: "remove", Subject: identity.Key(), Resource: ref.Name,
					Error: "not attempted, system credentials rejected",
				})
				failed++
				continue
			}
			op, opErr := r.applyGrant(ctx, adapter, ref, identity, "remove")
			if opErr != nil {
				failed++
				if IsAuthError(opErr) {
					breaker.Trip(spec.System)
					aborted = true
				}
			} else {
				pair.Removed++
			}
			pair.Operations = append(pair.Operations, op)
		}
	}

	if failed > 0 {
		pair.Outcome = PairOutcomePartial
		pair.Reason = fmt.Sprintf("%d grant operations failed", failed)
	} else {
		pair.Outcome = PairOutcomeDone
	}
	r.obs.logInfo(ctx, "pair reconciled", map[string]any{
		"system":  spec.System,
		"entity":  entity.String(),
		"variant": string(spec.Variant),
		"state":   state,
		"added":   pair.Added,
		"removed": pair.Removed,
		"failed":  failed,
	})
	return pair
}

func (r *Reconciler) resolveRef(
	ctx context.Context,
	adapter Adapter,
	entity Entity,
	spec ResourceSpec,
) (ResourceRef, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	return adapter.Resolve(callCtx, entity, spec)
}

func (r *Reconciler) channelMembers(ctx context.Context, entity Entity, variant Variant) ([]Identity, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	return r.membership.ChannelMembers(callCtx, entity, variant)
}

func (r *Reconciler) listGrants(ctx context.Context, adapter Adapter, ref ResourceRef) ([]Identity, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	return adapter.ListGrants(callCtx, ref)
}

// applyGrant performs one add or remove; one identity on one resource is
// the atomic unit of work and is never left half-applied.
func (r *Reconciler) applyGrant(
	ctx context.Context,
	adapter Adapter,
	ref ResourceRef,
	identity Identity,
	action string,
) (OperationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	var err error
	switch action {
	case "remove":
		err = adapter.RemoveGrant(callCtx, ref, identity)
	default:
		err = adapter.AddGrant(callCtx, ref, identity)
	}
	op := OperationResult{Action: action, Subject: identity.Key(), Resource: ref.Name}
	if err != nil {
		op.Error = syncErrorMapper(err).Error()
	}
	return op, err
}

func (r *Reconciler) archive(ctx context.Context, report RunReport) {
	if r.runArchive == nil {
		return
	}
	if err := r.runArchive.Save(ctx, report); err != nil {
		r.obs.logError(ctx, "run archive save failed", map[string]any{
			"run_id": report.RunID,
			"error":  err.Error(),
		})
	}
}
