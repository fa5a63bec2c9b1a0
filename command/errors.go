package command

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/ateliercommun/groupsync/core"
)

func commandDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.SyncErrorInternal)
}

func commandInvalidInputError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.SyncErrorBadInput)
}

func commandWrapValidation(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.SyncErrorBadInput)
}

func commandNotAdminChannelError(entity core.Entity) error {
	return goerrors.New(
		"command: send email is only accepted from the entity admin channel",
		goerrors.CategoryAuthz,
	).
		WithCode(http.StatusForbidden).
		WithTextCode(core.SyncErrorAuthFailed).
		WithMetadata(map[string]any{"entity": entity.String()})
}

func commandListNotFoundError(entity core.Entity) error {
	return goerrors.New(
		"command: entity has no contact list, run provisioning first",
		goerrors.CategoryNotFound,
	).
		WithCode(http.StatusNotFound).
		WithTextCode(core.SyncErrorResolutionFailed).
		WithMetadata(map[string]any{"entity": entity.String()})
}
