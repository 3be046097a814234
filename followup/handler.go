package followup

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/jgabriele321/remindd/reminder"
)

// Handler accepts assignment and follow-up events over HTTP.
type Handler struct {
	producer *Producer
}

// NewHandler creates the handler.
func NewHandler(producer *Producer) *Handler {
	return &Handler{producer: producer}
}

// Register mounts the routes on r.
func (h *Handler) Register(r fiber.Router) {
	r.Post("/assignments", h.HandleAssigned)
	r.Post("/assignments/:id/followups", h.HandleFollowUp)
}

// HandleAssigned handles POST /assignments
func (h *Handler) HandleAssigned(c fiber.Ctx) error {
	var a Assignment
	if err := c.Bind().Body(&a); err != nil {
		return respondError(c, &reminder.ValidationError{Message: "request body is not valid JSON: " + err.Error()})
	}
	delivered, err := h.producer.OnAssigned(c.Context(), a)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "success", "data": fiber.Map{"alertDelivered": delivered}})
}

// HandleFollowUp handles POST /assignments/:id/followups
func (h *Handler) HandleFollowUp(c fiber.Ctx) error {
	var f FollowUp
	if err := c.Bind().Body(&f); err != nil {
		return respondError(c, &reminder.ValidationError{Message: "request body is not valid JSON: " + err.Error()})
	}
	f.AssignmentID = c.Params("id")

	r, err := h.producer.OnFollowUp(c.Context(), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "success", "data": fiber.Map{"reminder": r}})
}

func respondError(c fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "internal_error"
	switch {
	case reminder.IsValidation(err):
		status, code = fiber.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrUnknownAssignment):
		status, code = fiber.StatusNotFound, "not_found"
	case reminder.IsStoreError(err):
		status, code = fiber.StatusServiceUnavailable, "store_unavailable"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"code":    code,
		"message": err.Error(),
	})
}
