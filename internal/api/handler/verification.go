package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/ingest"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/repository"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// VerificationService interface for the query and operator side
type VerificationService interface {
	GetVerificationStatus(ctx context.Context, subjectRef string) (*domain.VerificationRecord, error)
	ListEvents(ctx context.Context, filter repository.EventFilter) ([]domain.VerificationEvent, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.VerificationEvent, error)
	ReplayEvent(ctx context.Context, id uuid.UUID, actor string) (ingest.Disposition, error)
}

// VerificationHandler serves canonical records and the event ledger
type VerificationHandler struct {
	service VerificationService
}

func NewVerificationHandler(service VerificationService) *VerificationHandler {
	return &VerificationHandler{service: service}
}

// EventListResponse response for the events listing
type EventListResponse struct {
	Events []domain.VerificationEvent `json:"events"`
	Count  int                        `json:"count"`
}

// EventDetailResponse is an event with its stored raw payload
type EventDetailResponse struct {
	domain.VerificationEvent
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// ReplayResponse response for the replay endpoint
type ReplayResponse struct {
	ID          string             `json:"id"`
	Disposition ingest.Disposition `json:"disposition"`
}

// GetStatus GET /v1/verifications/:subject_ref
func (h *VerificationHandler) GetStatus(c *fiber.Ctx) error {
	rec, err := h.service.GetVerificationStatus(c.UserContext(), c.Params("subject_ref"))
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.ErrVerificationNotFound
	}
	return c.JSON(rec)
}

// ListEvents GET /v1/events
func (h *VerificationHandler) ListEvents(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit", defaultEventLimit)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := h.service.ListEvents(c.UserContext(), repository.EventFilter{
		Status:     domain.ProcessingStatus(c.Query("status")),
		Vendor:     c.Query("vendor"),
		SubjectRef: c.Query("subject_ref"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	if events == nil {
		events = []domain.VerificationEvent{}
	}

	return c.JSON(EventListResponse{Events: events, Count: len(events)})
}

// GetEvent GET /v1/events/:id
func (h *VerificationHandler) GetEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(errors.New("id must be a UUID"))
	}

	ev, err := h.service.GetEvent(c.UserContext(), id)
	if err != nil {
		return err
	}

	resp := EventDetailResponse{VerificationEvent: *ev}
	if json.Valid(ev.RawPayload) {
		resp.RawPayload = json.RawMessage(ev.RawPayload)
	}
	return c.JSON(resp)
}

// ReplayEvent POST /v1/events/:id/replay
func (h *VerificationHandler) ReplayEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(errors.New("id must be a UUID"))
	}

	disp, err := h.service.ReplayEvent(c.UserContext(), id, middleware.GetAPIKeyPrefix(c))
	if err != nil {
		return err
	}

	return c.JSON(ReplayResponse{ID: id.String(), Disposition: disp})
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.ErrValidationFailed.WithError(errors.New(key + " must be an integer"))
	}
	return n, nil
}
