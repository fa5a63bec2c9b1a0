package groupsync

import "github.com/ateliercommun/groupsync/core"

type Config = core.Config

type Option = core.Option

type Entity = core.Entity
type EntityType = core.EntityType
type Variant = core.Variant
type Identity = core.Identity
type ResourceRef = core.ResourceRef
type ResourceSpec = core.ResourceSpec
type PermissionsMatrix = core.PermissionsMatrix

type ProvisionRequest = core.ProvisionRequest
type ReconcileRequest = core.ReconcileRequest
type ReconcileMode = core.ReconcileMode
type SendEmailRequest = core.SendEmailRequest

type RunReport = core.RunReport
type EntityReport = core.EntityReport
type PairReport = core.PairReport

type Adapter = core.Adapter
type Registry = core.Registry
type MembershipSource = core.MembershipSource
type RunArchive = core.RunArchive
type EmailSender = core.EmailSender

const (
	EntityTypeProject = core.EntityTypeProject
	EntityTypeAntenna = core.EntityTypeAntenna
	EntityTypePole    = core.EntityTypePole

	VariantStandard = core.VariantStandard
	VariantAdmin    = core.VariantAdmin

	ModeAdditive = core.ModeAdditive
	ModeFull     = core.ModeFull
)

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithRegistry         = core.WithRegistry
	WithMatrix           = core.WithMatrix
	WithMembershipSource = core.WithMembershipSource
	WithRunArchive       = core.WithRunArchive
	WithClock            = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func ParseMatrix(data []byte) (PermissionsMatrix, error) {
	return core.ParseMatrix(data)
}

func NewAdapterRegistry() *core.AdapterRegistry {
	return core.NewAdapterRegistry()
}
