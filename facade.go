package groupsync

import (
	"context"
	"fmt"

	"github.com/ateliercommun/groupsync/command"
	"github.com/ateliercommun/groupsync/core"
	"github.com/ateliercommun/groupsync/membership"
	"github.com/ateliercommun/groupsync/providers/chat"
)

// FacadeConfig wires one team's provisioning stack. Chat doubles as the
// membership source and as a provisioned system, so it is configured apart
// from the other adapters.
type FacadeConfig struct {
	Runtime  core.Config
	Matrix   *core.PermissionsMatrix
	Chat     *chat.Adapter
	Adapters []core.Adapter

	// Archive is optional; without it run reports are not persisted.
	Archive core.RunArchive
	// Mailer is optional; when it also implements core.Adapter (the Brevo
	// adapter does) it backs the contact-list lookups of the email command.
	Mailer core.EmailSender

	Logger core.Logger
}

type Commands struct {
	Provision *command.ProvisionCommand
	Reconcile *command.ReconcileCommand
	SendEmail *command.SendEmailCommand
}

type Facade struct {
	provisioner *core.Provisioner
	reconciler  *core.Reconciler
	archive     core.RunArchive
	commands    Commands
}

func NewFacade(cfg FacadeConfig, opts ...core.Option) (*Facade, error) {
	if cfg.Matrix == nil {
		return nil, fmt.Errorf("groupsync: permissions matrix is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("groupsync: chat adapter is required")
	}

	registry := core.NewAdapterRegistry()
	if err := registry.Register(cfg.Chat); err != nil {
		return nil, err
	}
	for _, adapter := range cfg.Adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	if listAdapter, ok := cfg.Mailer.(core.Adapter); ok {
		if _, registered := registry.Get(listAdapter.ID()); !registered {
			if err := registry.Register(listAdapter); err != nil {
				return nil, err
			}
		}
	}

	source, err := membership.New(chatChannelAPI{adapter: cfg.Chat}, membership.Config{
		TeamID:        cfg.Runtime.TeamID,
		Matrix:        cfg.Matrix,
		ExcludedUsers: cfg.Runtime.ExcludedUsers,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	engineOpts := []core.Option{
		core.WithRegistry(registry),
		core.WithMatrix(cfg.Matrix),
		core.WithMembershipSource(source),
	}
	if cfg.Archive != nil {
		engineOpts = append(engineOpts, core.WithRunArchive(cfg.Archive))
	}
	if cfg.Logger != nil {
		engineOpts = append(engineOpts, core.WithLogger(cfg.Logger))
	}
	engineOpts = append(engineOpts, opts...)

	provisioner, err := core.NewProvisioner(cfg.Runtime, engineOpts...)
	if err != nil {
		return nil, err
	}
	reconciler, err := core.NewReconciler(cfg.Runtime, engineOpts...)
	if err != nil {
		return nil, err
	}

	facade := &Facade{
		provisioner: provisioner,
		reconciler:  reconciler,
		archive:     cfg.Archive,
	}
	facade.commands = Commands{
		Provision: command.NewProvisionCommand(provisioner),
		Reconcile: command.NewReconcileCommand(reconciler),
	}
	if cfg.Mailer != nil {
		if listAdapter, ok := cfg.Mailer.(core.Adapter); ok {
			facade.commands.SendEmail = command.NewSendEmailCommand(cfg.Mailer, emailDirectory{
				chat:   cfg.Chat,
				lists:  listAdapter,
				matrix: cfg.Matrix,
			})
		}
	}

	return facade, nil
}

func (f *Facade) Provision(ctx context.Context, req core.ProvisionRequest) (core.RunReport, error) {
	if f == nil || f.provisioner == nil {
		return core.RunReport{}, fmt.Errorf("groupsync: facade is not configured")
	}
	return f.provisioner.Provision(ctx, req)
}

func (f *Facade) Reconcile(ctx context.Context, req core.ReconcileRequest) (core.RunReport, error) {
	if f == nil || f.reconciler == nil {
		return core.RunReport{}, fmt.Errorf("groupsync: facade is not configured")
	}
	return f.reconciler.Reconcile(ctx, req)
}

func (f *Facade) SendEmail(ctx context.Context, msg command.SendEmailMessage) error {
	if f == nil || f.commands.SendEmail == nil {
		return fmt.Errorf("groupsync: email command is not configured")
	}
	return f.commands.SendEmail.Execute(ctx, msg)
}

// RecentRuns lists archived run reports, newest first.
func (f *Facade) RecentRuns(ctx context.Context, limit int) ([]core.RunReport, error) {
	if f == nil {
		return nil, fmt.Errorf("groupsync: facade is not configured")
	}
	if f.archive == nil {
		return nil, nil
	}
	return f.archive.ListRecent(ctx, limit)
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}
