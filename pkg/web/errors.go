package web

import (
	"errors"
	"net/http"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// writeProblem answers with an RFC 7807 problem document.
func writeProblem(c fiber.Ctx, status int, problemType, detail string) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}

func badRequest(c fiber.Ctx, detail string) error {
	return writeProblem(c, http.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	return writeProblem(c, http.StatusInternalServerError, "internal_error", err.Error())
}

// notFoundTypes names the missing entity in the problem type.
var notFoundTypes = []struct {
	err         error
	problemType string
}{
	{persistence.ErrWorkflowNotFound, "workflow_not_found"},
	{persistence.ErrVersionNotFound, "version_not_found"},
	{persistence.ErrNoActiveVersion, "no_active_version"},
	{persistence.ErrExecutionNotFound, "execution_not_found"},
	{persistence.ErrTriggerNotFound, "trigger_not_found"},
	{persistence.ErrCredentialNotFound, "credential_not_found"},
}

// classify maps a service error to its HTTP status and problem type.
func classify(err error) (int, string) {
	switch {
	case services.IsValidationError(err), errors.Is(err, persistence.ErrInvalidID):
		return http.StatusBadRequest, "validation_error"
	case services.IsConflictError(err):
		return http.StatusConflict, "conflict"
	case persistence.IsNotFound(err):
		for _, nf := range notFoundTypes {
			if errors.Is(err, nf.err) {
				return http.StatusNotFound, nf.problemType
			}
		}

		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrVaultDisabled):
		return http.StatusServiceUnavailable, "vault_disabled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func handleServiceError(c fiber.Ctx, err error) error {
	status, problemType := classify(err)

	return writeProblem(c, status, problemType, err.Error())
}
