package notify

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/jgabriele321/remindd/push"
	"github.com/jgabriele321/remindd/recipient"
)

// Notifier delivers a payload outside the reminder lifecycle.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, p push.Payload) (bool, error)
}

// Handler exposes announcements, address registration and chat notifications over HTTP.
type Handler struct {
	announcer *Announcer
	directory recipient.Directory
	notifier  Notifier
	validate  *validator.Validate
}

// NewHandler creates the handler.
func NewHandler(announcer *Announcer, directory recipient.Directory, notifier Notifier) *Handler {
	return &Handler{
		announcer: announcer,
		directory: directory,
		notifier:  notifier,
		validate:  validator.New(),
	}
}

// Register mounts the routes on r.
func (h *Handler) Register(r fiber.Router) {
	r.Post("/announcements", h.HandleAnnounce)
	r.Post("/recipients/:id/addresses", h.HandleRegisterAddress)
	r.Delete("/addresses/:address", h.HandleRemoveAddress)
	r.Post("/notifications/chat", h.HandleChat)
}

// AnnounceRequest is the body of POST /announcements
type AnnounceRequest struct {
	Title            string            `json:"title" validate:"required,max=200"`
	Body             string            `json:"body" validate:"max=2000"`
	RecipientsFilter recipient.Filter  `json:"recipientsFilter"`
	Data             map[string]string `json:"data"`
}

// RegisterAddressRequest is the body of POST /recipients/:id/addresses
type RegisterAddressRequest struct {
	Address string `json:"address" validate:"required"`
	Role    string `json:"role" validate:"omitempty,oneof=admin employee user"`
}

// ChatRequest is the body of POST /notifications/chat
type ChatRequest struct {
	RecipientID    string `json:"recipientId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
	SenderID       string `json:"senderId" validate:"required"`
	SenderName     string `json:"senderName"`
	Text           string `json:"text" validate:"required"`
}

// HandleAnnounce handles POST /announcements
func (h *Handler) HandleAnnounce(c fiber.Ctx) error {
	var req AnnounceRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "request body is not valid JSON: "+err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.RecipientsFilter.Role != "" && !req.RecipientsFilter.Role.Valid() {
		return badRequest(c, "recipientsFilter.role must be admin, employee or user")
	}

	res, err := h.announcer.Announce(c.Context(), Announcement{
		Title:  req.Title,
		Body:   req.Body,
		Filter: req.RecipientsFilter,
		Data:   req.Data,
	})
	if errors.Is(err, ErrInvalidAnnouncement) {
		return badRequest(c, err.Error())
	}
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(res)
}

// HandleRegisterAddress handles POST /recipients/:id/addresses
func (h *Handler) HandleRegisterAddress(c fiber.Ctx) error {
	var req RegisterAddressRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "request body is not valid JSON: "+err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.directory.RegisterAddress(c.Context(), c.Params("id"), recipient.Role(req.Role), req.Address)
	if errors.Is(err, recipient.ErrInvalid) {
		return badRequest(c, err.Error())
	}
	if err != nil {
		return unavailable(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "success"})
}

// HandleRemoveAddress handles DELETE /addresses/:address
func (h *Handler) HandleRemoveAddress(c fiber.Ctx) error {
	if err := h.directory.RemoveAddress(c.Context(), c.Params("address")); err != nil {
		return unavailable(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleChat handles POST /notifications/chat
func (h *Handler) HandleChat(c fiber.Ctx) error {
	var req ChatRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "request body is not valid JSON: "+err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	p := ChatPayload(req.ConversationID, req.SenderID, req.SenderName, req.Text)
	delivered, err := h.notifier.Notify(c.Context(), req.RecipientID, p)
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": fiber.Map{"delivered": delivered}})
}

func badRequest(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"status":  "error",
		"code":    "validation_error",
		"message": message,
	})
}

func unavailable(c fiber.Ctx, err error) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"status":  "error",
		"code":    "store_unavailable",
		"message": err.Error(),
	})
}
