package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// attrJoinRequester marks a resource spec whose freshly created resource
// should receive a grant for the requesting user, typically the chat
// channel itself.
const attrJoinRequester = "join_requester"

type ProvisionRequest struct {
	EntityType EntityType
	Names      []string
	Requester  *Identity
}

func (r ProvisionRequest) Validate() error {
	if err := r.EntityType.Validate(); err != nil {
		return err
	}
	if len(r.Names) == 0 {
		return fmt.Errorf("core: at least one name is required")
	}
	for _, name := range r.Names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("core: entity name is empty")
		}
	}
	return nil
}

// Provisioner creates the declared resources for named entities across
// every system the matrix binds to their entity type. Entities run on a
// bounded worker pool; within one entity, resources are created in matrix
// order because later specs may depend on an earlier system's output.
type Provisioner struct {
	config     Config
	registry   Registry
	matrix     *PermissionsMatrix
	runArchive RunArchive
	obs        observer
	now        func() time.Time
}

func NewProvisioner(cfg Config, options ...Option) (*Provisioner, error) {
	builder := defaultEngineBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	finalConfig, err := builder.resolve("provision")
	if err != nil {
		return nil, err
	}
	if builder.matrix == nil {
		return nil, fmt.Errorf("core: provisioner requires a permissions matrix")
	}
	if err := builder.matrix.Validate(builder.registry); err != nil {
		return nil, err
	}
	return &Provisioner{
		config:     finalConfig,
		registry:   builder.registry,
		matrix:     builder.matrix,
		runArchive: builder.runArchive,
		obs:        observer{logger: builder.logger, metricsRecorder: builder.metricsRecorder},
		now:        builder.now,
	}, nil
}

func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (RunReport, error) {
	if p == nil {
		return RunReport{}, fmt.Errorf("core: provisioner is nil")
	}
	startedAt := p.now()
	if err := req.Validate(); err != nil {
		return RunReport{}, ensureSyncErrorEnvelope(newConfigError(err.Error()))
	}
	specs := p.matrix.SpecsFor(req.EntityType)
	if len(specs) == 0 {
		return RunReport{}, newConfigError(
			fmt.Sprintf("no resources declared for entity type %s", req.EntityType),
		)
	}

	report := RunReport{
		RunID:     uuid.NewString(),
		Kind:      RunKindProvision,
		StartedAt: startedAt,
	}

	entities := make([]Entity, 0, len(req.Names))
	for _, name := range req.Names {
		entity, err := NewEntity(req.EntityType, name)
		if err != nil {
			return RunReport{}, ensureSyncErrorEnvelope(newConfigError(err.Error()))
		}
		entities = append(entities, entity)
	}

	report.Entities = p.runEntities(ctx, entities, func(ctx context.Context, entity Entity) EntityReport {
		return p.provisionEntity(ctx, entity, specs, req.Requester)
	})
	report.FinishedAt = p.now()
	report.SortEntities()

	p.obs.observeOperation(ctx, startedAt, "provision_run", nil, map[string]any{
		"run_id":      report.RunID,
		"entity_type": string(req.EntityType),
		"entities":    len(entities),
	})
	p.archive(ctx, report)
	return report, nil
}

// runEntities fans entities out over a bounded pool. Cancellation is
// cooperative at entity granularity: entities not yet dispatched when the
// context dies come back NOT_STARTED while in-flight ones run to
// completion.
func (p *Provisioner) runEntities(
	ctx context.Context,
	entities []Entity,
	work func(ctx context.Context, entity Entity) EntityReport,
) []EntityReport {
	reports := make([]EntityReport, len(entities))
	semaphore := make(chan struct{}, p.config.Concurrency)
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
			entityReport := work(context.WithoutCancel(ctx), entity)
			entityReport.Rollup()
			reports[index] = entityReport
		}(index, entity)
	}
	wg.Wait()
	return reports
}

func (p *Provisioner) provisionEntity(
	ctx context.Context,
	entity Entity,
	specs []ResourceSpec,
	requester *Identity,
) EntityReport {
	entityReport := EntityReport{Entity: entity}
	for _, spec := range specs {
		pair := PairReport{System: spec.System, Variant: spec.Variant}
		adapter, ok := p.registry.Get(spec.System)
		if !ok {
			pair.Outcome = PairOutcomePartial
			pair.Reason = fmt.Sprintf("system %s not registered", spec.System)
			entityReport.Pairs = append(entityReport.Pairs, pair)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
		_, existed, resolveErr := adapter.Resolve(callCtx, entity, spec)
		ref, ensureErr := adapter.EnsureResource(callCtx, entity, spec)
		cancel()

		op := OperationResult{Action: "ensure", Subject: entity.String(), Resource: spec.ResourceName(entity)}
		if ensureErr != nil {
			op.Error = syncErrorMapper(ensureErr).Error()
			pair.Outcome = PairOutcomePartial
			pair.Reason = "resource creation failed"
			pair.Operations = append(pair.Operations, op)
			entityReport.Pairs = append(entityReport.Pairs, pair)
			p.obs.logError(ctx, "resource creation failed", map[string]any{
				"system": spec.System,
				"entity": entity.String(),
				"error":  ensureErr.Error(),
			})
			continue
		}
		pair.Operations = append(pair.Operations, op)
		pair.Outcome = PairOutcomeDone

		created := resolveErr == nil && !existed
		if created && requester != nil && attributeBool(spec, attrJoinRequester) {
			joinCtx, cancelJoin := context.WithTimeout(ctx, p.config.CallTimeout)
			joinErr := adapter.AddGrant(joinCtx, ref, *requester)
			cancelJoin()
			joinOp := OperationResult{Action: "add", Subject: requester.Key(), Resource: ref.Name}
			if joinErr != nil {
				joinOp.Error = syncErrorMapper(joinErr).Error()
				pair.Outcome = PairOutcomePartial
				pair.Reason = "requester join failed"
			}
			pair.Operations = append(pair.Operations, joinOp)
		}
		entityReport.Pairs = append(entityReport.Pairs, pair)
	}
	return entityReport
}

func (p *Provisioner) archive(ctx context.Context, report RunReport) {
	if p.runArchive == nil {
		return
	}
	if err := p.runArchive.Save(ctx, report); err != nil {
		p.obs.logError(ctx, "run archive save failed", map[string]any{
			"run_id": report.RunID,
			"error":  err.Error(),
		})
	}
}

func attributeBool(spec ResourceSpec, key string) bool {
	value, ok := spec.Attributes[key]
	if !ok {
		return false
	}
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return strings.EqualFold(strings.TrimSpace(typed), "true")
	default:
		return false
	}
}
