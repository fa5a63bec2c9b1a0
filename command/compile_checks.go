package command

import (
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[ProvisionMessage] = (*ProvisionCommand)(nil)
	_ gocmd.Commander[ReconcileMessage] = (*ReconcileCommand)(nil)
	_ gocmd.Commander[SendEmailMessage] = (*SendEmailCommand)(nil)
)
