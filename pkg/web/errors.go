package web

import (
	"errors"

	"github.com/dukex/stepflow/pkg/engine"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// instanceExtension points the client at an instance that exists despite the error.
type instanceExtension struct {
	InstanceID string `json:"instanceId"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) *problems.Problem {
	return problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)
}

// handleEngineError maps engine errors to problem documents.
func handleEngineError(c fiber.Ctx, err error) error {
	problem := engineProblem(c, err)

	return c.Status(problem.Status).JSON(problem)
}

// handleStartError answers a failed start. When the engine created the instance
// before failing, its id is carried in the problem extensions so the client can
// read the recorded failure.
func handleStartError(c fiber.Ctx, instanceID string, err error) error {
	problem := engineProblem(c, err)
	if instanceID == "" {
		return c.Status(problem.Status).JSON(problem)
	}

	return c.Status(problem.Status).JSON(problems.Extend(problem, instanceExtension{InstanceID: instanceID}))
}

func engineProblem(c fiber.Ctx, err error) *problems.Problem {
	switch {
	case engine.IsValidationError(err):
		return problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

	case errors.Is(err, engine.ErrTemplateNotFound):
		return notFound(c, "template_not_found", "workflow template not found or inactive")

	case errors.Is(err, engine.ErrInstanceNotFound):
		return notFound(c, "instance_not_found", "workflow instance not found")

	case errors.Is(err, engine.ErrApprovalNotFound):
		return notFound(c, "approval_not_found", "approval not found")

	case errors.Is(err, engine.ErrStepNotFound):
		return notFound(c, "step_not_found", "step not found in template")

	case engine.IsConflictError(err):
		return problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

	case errors.Is(err, engine.ErrUnknownStepType), errors.Is(err, engine.ErrChainDepthExceeded):
		return problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("template_misconfigured").
			WithDetail(err.Error())

	default:
		return problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)
	}
}
