package funding

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultDescriptor = "AIRBNB"
	defaultMCC        = "7011"
)

// Handler exposes HTTP endpoints for the funding lifecycle.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Generate creates a funding placeholder and returns its id.
func (h *Handler) Generate(c *fiber.Ctx) error {
	rec, err := h.service.Create(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "could not create funding")
	}
	return c.Status(http.StatusOK).JSON(GenerateResponse{ID: rec.ID})
}

// Get returns the public view of a funding.
func (h *Handler) Get(c *fiber.Ctx) error {
	rec, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(toFundingResponse(rec))
}

// Simulate authorizes and clears a purchase against the funding's card.
func (h *Handler) Simulate(c *fiber.Ctx) error {
	var req SimulateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	if strings.TrimSpace(req.Descriptor) == "" {
		req.Descriptor = defaultDescriptor
	}
	if strings.TrimSpace(req.MCC) == "" {
		req.MCC = defaultMCC
	}

	res, err := h.service.Simulate(c.UserContext(), c.Params("id"), SimulateInput{
		Descriptor: req.Descriptor,
		MCC:        req.MCC,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(toSimulateResponse(res))
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "Funding not found")
	case errors.Is(err, ErrPreconditionFailed):
		return fiber.NewError(http.StatusBadRequest, "Card not available for this funding")
	case errors.Is(err, ErrInvariantViolation):
		return fiber.NewError(http.StatusInternalServerError, "Authorization token missing after simulation")
	case errors.Is(err, ErrUpstream):
		return fiber.NewError(http.StatusInternalServerError, "Card provider simulation failed")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
