package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/ingest"
)

// Ingestor is the part of the dispatcher the HTTP layer needs
type Ingestor interface {
	HandleInbound(ctx context.Context, req ingest.InboundRequest) (ingest.Ack, error)
}

// WebhookHandler receives vendor callbacks
type WebhookHandler struct {
	ingestor Ingestor
}

func NewWebhookHandler(ingestor Ingestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// Receive POST /v1/webhooks/:vendor
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer once the handler returns
	body := append([]byte(nil), c.Body()...)

	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	ack, err := h.ingestor.HandleInbound(c.UserContext(), ingest.InboundRequest{
		Vendor:    c.Params("vendor"),
		Body:      body,
		Headers:   headers,
		RemoteIP:  c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(ack)
}
