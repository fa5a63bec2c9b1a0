package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"

	"github.com/ateliercommun/groupsync/core"
)

type ProvisioningService interface {
	Provision(ctx context.Context, req core.ProvisionRequest) (core.RunReport, error)
}

type ReconcilingService interface {
	Reconcile(ctx context.Context, req core.ReconcileRequest) (core.RunReport, error)
}

// EmailDirectory resolves the chat and contact-list resources an email
// command needs: the entity's admin channel for the gate, and the list
// the email fans out to.
type EmailDirectory interface {
	AdminChannelID(ctx context.Context, entity core.Entity) (string, error)
	ContactListRef(ctx context.Context, entity core.Entity) (core.ResourceRef, bool, error)
}

type ProvisionCommand struct {
	service ProvisioningService
}

func NewProvisionCommand(service ProvisioningService) *ProvisionCommand {
	return &ProvisionCommand{service: service}
}

func (c *ProvisionCommand) Execute(ctx context.Context, msg ProvisionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: provisioning service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	report, err := c.service.Provision(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, report)
	return nil
}

type ReconcileCommand struct {
	service ReconcilingService
}

func NewReconcileCommand(service ReconcilingService) *ReconcileCommand {
	return &ReconcileCommand{service: service}
}

func (c *ReconcileCommand) Execute(ctx context.Context, msg ReconcileMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: reconciling service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	report, err := c.service.Reconcile(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, report)
	return nil
}

type SendEmailCommand struct {
	mailer    core.EmailSender
	directory EmailDirectory
}

func NewSendEmailCommand(mailer core.EmailSender, directory EmailDirectory) *SendEmailCommand {
	return &SendEmailCommand{mailer: mailer, directory: directory}
}

// Execute gates on the admin channel before any email goes out: a request
// from any other channel is an authorization failure, not a validation one.
func (c *SendEmailCommand) Execute(ctx context.Context, msg SendEmailMessage) error {
	if c == nil || c.mailer == nil || c.directory == nil {
		return commandDependencyError("command: email sender and directory are required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	entity, err := core.NewEntity(msg.EntityType, msg.BaseName)
	if err != nil {
		return commandWrapValidation(err, "command: invalid send email target")
	}

	adminChannelID, err := c.directory.AdminChannelID(ctx, entity)
	if err != nil {
		return err
	}
	if adminChannelID == "" || !strings.EqualFold(adminChannelID, strings.TrimSpace(msg.InvokingChannelID)) {
		return commandNotAdminChannelError(entity)
	}

	listRef, found, err := c.directory.ContactListRef(ctx, entity)
	if err != nil {
		return err
	}
	if !found {
		return commandListNotFoundError(entity)
	}
	return c.mailer.SendEmail(ctx, core.SendEmailRequest{
		ListRef: listRef,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
