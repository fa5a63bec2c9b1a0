package command

import (
	"strings"

	"github.com/ateliercommun/groupsync/core"
)

const (
	TypeProvision = "groupsync.command.provision"
	TypeReconcile = "groupsync.command.reconcile"
	TypeSendEmail = "groupsync.command.send_email"
)

type ProvisionMessage struct {
	Request core.ProvisionRequest
}

func (ProvisionMessage) Type() string { return TypeProvision }

func (m ProvisionMessage) Validate() error {
	return commandWrapValidation(m.Request.Validate(), "command: invalid provision request")
}

type ReconcileMessage struct {
	Request core.ReconcileRequest
}

func (ReconcileMessage) Type() string { return TypeReconcile }

func (m ReconcileMessage) Validate() error {
	return commandWrapValidation(m.Request.Validate(), "command: invalid reconcile request")
}

// SendEmailMessage asks for a transactional email to the contact list of
// one entity. InvokingChannelID identifies the chat channel the request
// came from; the handler only accepts it from the entity's admin channel.
type SendEmailMessage struct {
	EntityType        core.EntityType
	BaseName          string
	Subject           string
	Body              string
	InvokingChannelID string
}

func (SendEmailMessage) Type() string { return TypeSendEmail }

func (m SendEmailMessage) Validate() error {
	if _, err := core.NewEntity(m.EntityType, m.BaseName); err != nil {
		return commandWrapValidation(err, "command: invalid send email target")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return commandInvalidInputError("command: email subject is required")
	}
	if strings.TrimSpace(m.Body) == "" {
		return commandInvalidInputError("command: email body is required")
	}
	if strings.TrimSpace(m.InvokingChannelID) == "" {
		return commandInvalidInputError("command: invoking channel id is required")
	}
	return nil
}
