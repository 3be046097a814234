package reminder

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Handler exposes the lifecycle manager over HTTP
type Handler struct {
	service    Service
	timeParser *TimeParser
	validate   *validator.Validate
}

// NewHandler creates a new reminder handler
func NewHandler(service Service, location *time.Location) *Handler {
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		service:    service,
		timeParser: NewTimeParser(location),
		validate:   validator.New(),
	}
}

// Register mounts the reminder routes on r.
func (h *Handler) Register(r fiber.Router) {
	r.Post("/reminders", h.HandleCreate)
	r.Get("/reminders", h.HandleList)
	r.Get("/reminders/:id", h.HandleGet)
	r.Get("/reminders/:id/attempts", h.HandleAttempts)
	r.Post("/reminders/:id/complete", h.HandleComplete)
	r.Put("/reminders/:id/snooze", h.HandleSnooze)
	r.Put("/reminders/:id/dismiss", h.HandleDismiss)
	r.Delete("/reminders/:id", h.HandleDelete)
}

// CreateRequest is the body of POST /reminders
type CreateRequest struct {
	OwnerID      string            `json:"ownerId" validate:"required"`
	CreatedBy    string            `json:"createdBy"`
	Kind         string            `json:"kind" validate:"omitempty,oneof=reminder alert"`
	Title        string            `json:"title" validate:"required,max=200"`
	Note         string            `json:"note" validate:"max=2000"`
	Context      map[string]string `json:"context"`
	TriggerAt    string            `json:"triggerAt" validate:"required"`
	Repeat       string            `json:"repeat"`
	AssignmentID string            `json:"assignmentId"`
}

// CompleteRequest is the body of POST /reminders/:id/complete
type CompleteRequest struct {
	Response string `json:"response"`
}

// SnoozeRequest is the body of PUT /reminders/:id/snooze
type SnoozeRequest struct {
	Minutes int `json:"minutes"`
}

// HandleCreate handles POST /reminders
func (h *Handler) HandleCreate(c fiber.Ctx) error {
	var req CreateRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "request body is not valid JSON: "+err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	triggerAt, err := h.timeParser.ParseTrigger(req.TriggerAt)
	if err != nil {
		return writeError(c, invalid("triggerAt", "%v", err))
	}
	interval, minutes, err := h.timeParser.ParseRepeat(req.Repeat)
	if err != nil {
		return writeError(c, invalid("repeat", "%v", err))
	}

	r := &Reminder{
		Kind:           Kind(req.Kind),
		OwnerID:        req.OwnerID,
		CreatedBy:      req.CreatedBy,
		Title:          req.Title,
		Note:           req.Note,
		Context:        req.Context,
		TriggerAt:      triggerAt,
		IsRepeating:    interval != RepeatNone,
		RepeatInterval: interval,
		RepeatMinutes:  minutes,
		AssignmentID:   req.AssignmentID,
	}
	if err := h.service.Create(c.Context(), r); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "success", "data": r})
}

// HandleList handles GET /reminders?status=&ownerId=&overdue=
func (h *Handler) HandleList(c fiber.Ctx) error {
	filter := ListFilter{OwnerID: c.Query("ownerId")}
	if status := c.Query("status"); status != "" {
		st := Status(strings.ToLower(status))
		filter.Status = &st
	}
	if kind := c.Query("kind"); kind != "" {
		k := Kind(kind)
		filter.Kind = &k
	}
	if overdue := c.Query("overdue"); overdue != "" {
		v, err := strconv.ParseBool(overdue)
		if err != nil {
			return badRequest(c, "overdue must be true or false")
		}
		filter.Overdue = v
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}

	reminders, err := h.service.List(c.Context(), filter)
	if err != nil {
		return writeError(c, err)
	}
	if reminders == nil {
		reminders = []*Reminder{}
	}
	return c.JSON(fiber.Map{"status": "success", "data": reminders})
}

// HandleGet handles GET /reminders/:id
func (h *Handler) HandleGet(c fiber.Ctx) error {
	r, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": r})
}

// HandleAttempts handles GET /reminders/:id/attempts
func (h *Handler) HandleAttempts(c fiber.Ctx) error {
	attempts, err := h.service.Attempts(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if attempts == nil {
		attempts = []*DispatchAttempt{}
	}
	return c.JSON(fiber.Map{"status": "success", "data": attempts})
}

// HandleComplete handles POST /reminders/:id/complete
func (h *Handler) HandleComplete(c fiber.Ctx) error {
	var req CompleteRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "request body is not valid JSON: "+err.Error())
	}
	r, err := h.service.Complete(c.Context(), c.Params("id"), req.Response)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": r})
}

// HandleSnooze handles PUT /reminders/:id/snooze
func (h *Handler) HandleSnooze(c fiber.Ctx) error {
	var req SnoozeRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "request body is not valid JSON: "+err.Error())
	}
	r, err := h.service.Snooze(c.Context(), c.Params("id"), req.Minutes)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": r})
}

// HandleDismiss handles PUT /reminders/:id/dismiss
func (h *Handler) HandleDismiss(c fiber.Ctx) error {
	r, err := h.service.Dismiss(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": r})
}

// HandleDelete handles DELETE /reminders/:id
func (h *Handler) HandleDelete(c fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func badRequest(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"status":  "error",
		"code":    "validation_error",
		"message": message,
	})
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "internal_error"
	details := fiber.Map{}

	var ve *ValidationError
	var se *InvalidStateError
	switch {
	case errors.As(err, &ve):
		status, code = fiber.StatusBadRequest, "validation_error"
		details["field"] = ve.Field
	case errors.As(err, &se):
		status, code = fiber.StatusConflict, "invalid_state"
		details["currentState"] = se.Current
		details["transition"] = se.Transition
	case errors.Is(err, ErrNotFound):
		status, code = fiber.StatusNotFound, "not_found"
	case IsStoreError(err), errors.Is(err, ErrConflict):
		status, code = fiber.StatusServiceUnavailable, "store_unavailable"
	}

	body := fiber.Map{
		"status":  "error",
		"code":    code,
		"message": err.Error(),
	}
	if len(details) > 0 {
		body["details"] = details
	}
	return c.Status(status).JSON(body)
}
