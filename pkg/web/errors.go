package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/opsdesk/stepflow/pkg/workflow"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// fieldProblem carries the per-field messages of a step input rejection.
type fieldProblem struct {
	*problems.Problem

	Fields map[string]string `json:"fields"`
}

// handleServiceError maps engine and definition errors to problem documents.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case workflow.IsNotFound(err):
		return problem(c, fiber.StatusNotFound, "not_found", err.Error())

	case workflow.IsAuthorization(err):
		return problem(c, fiber.StatusForbidden, "forbidden", err.Error())

	case workflow.IsRetryPending(err):
		return problem(c, fiber.StatusConflict, "retry_pending", err.Error())

	case protocol.IsValidationError(err):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fieldProblem{
			Problem: problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
				WithInstance(c.Path()).
				WithType("invalid_input").
				WithDetail(err.Error()),
			Fields: validationFields(err),
		})

	case workflow.IsValidation(err):
		return badRequest(c, err.Error())

	case workflow.IsConflict(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case workflow.IsStepFailed(err):
		return problem(c, fiber.StatusUnprocessableEntity, "step_failed", err.Error())

	default:
		return internalError(c, err)
	}
}

func validationFields(err error) map[string]string {
	var validationErr *protocol.ValidationError
	if !errors.As(err, &validationErr) {
		return nil
	}

	return validationErr.Fields
}
