package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Adapter is the uniform capability contract one external system exposes to
// both engines. Implementations confine side effects to their own system
// and never share state with each other.
//
// EnsureResource must be safe to call repeatedly: a deterministic-name
// lookup decides between returning the existing resource and creating it,
// so re-invocation after a partial prior failure never duplicates.
// AddGrant and RemoveGrant are idempotent: granting an existing access or
// revoking an absent one is a no-op, not an error.
type Adapter interface {
	ID() string
	Variants() []Variant

	Resolve(ctx context.Context, entity Entity, spec ResourceSpec) (ResourceRef, bool, error)
	EnsureResource(ctx context.Context, entity Entity, spec ResourceSpec) (ResourceRef, error)
	ListGrants(ctx context.Context, ref ResourceRef) ([]Identity, error)
	AddGrant(ctx context.Context, ref ResourceRef, identity Identity) error
	RemoveGrant(ctx context.Context, ref ResourceRef, identity Identity) error
}

// MembershipSource reads the live member lists of the chat channels that
// act as the source of truth. A channel that does not exist yields an empty
// set, not an error: an entity may legitimately have no admin channel.
type MembershipSource interface {
	ChannelMembers(ctx context.Context, entity Entity, variant Variant) ([]Identity, error)
	DiscoverEntities(ctx context.Context) ([]Entity, error)
}

type Registry interface {
	Register(adapter Adapter) error
	Get(systemID string) (Adapter, bool)
	List() []Adapter
}

// RunArchive persists completed run reports for operators. Archive failures
// never fail a run; the engines log and move on.
type RunArchive interface {
	Save(ctx context.Context, report RunReport) error
	ListRecent(ctx context.Context, limit int) ([]RunReport, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg any) error
}

// RateLimitKey buckets throttle state per system. Scope stays coarse: one
// bucket per system matches the per-run concurrency ceiling.
type RateLimitKey struct {
	SystemID  string
	BucketKey string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

// EmailSender is the outbound-email collaborator: one stateless call, no
// reconciliation semantics. The admin-channel gate lives in the command
// layer, not here.
type EmailSender interface {
	SendEmail(ctx context.Context, req SendEmailRequest) error
}

type SendEmailRequest struct {
	ListRef ResourceRef
	Subject string
	Body    string
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// JobWorkerHook observes the lifecycle of scheduled run executions.
type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
