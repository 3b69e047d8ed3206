package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/ingest"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/repository"
)

type MockIngestor struct {
	mock.Mock
}

func (m *MockIngestor) HandleInbound(ctx context.Context, req ingest.InboundRequest) (ingest.Ack, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ingest.Ack), args.Error(1)
}

type MockVerificationService struct {
	mock.Mock
}

func (m *MockVerificationService) GetVerificationStatus(ctx context.Context, subjectRef string) (*domain.VerificationRecord, error) {
	args := m.Called(ctx, subjectRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VerificationRecord), args.Error(1)
}

func (m *MockVerificationService) ListEvents(ctx context.Context, filter repository.EventFilter) ([]domain.VerificationEvent, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VerificationEvent), args.Error(1)
}

func (m *MockVerificationService) GetEvent(ctx context.Context, id uuid.UUID) (*domain.VerificationEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VerificationEvent), args.Error(1)
}

func (m *MockVerificationService) ReplayEvent(ctx context.Context, id uuid.UUID, actor string) (ingest.Disposition, error) {
	args := m.Called(ctx, id, actor)
	return args.Get(0).(ingest.Disposition), args.Error(1)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(testLogger())})
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, body io.Reader, v any) {
	t.Helper()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v), string(raw))
}

func TestWebhookHandler_Receive(t *testing.T) {
	t.Run("passes raw body, headers and vendor through", func(t *testing.T) {
		ing := new(MockIngestor)
		app := newTestApp()
		app.Post("/v1/webhooks/:vendor", NewWebhookHandler(ing).Receive)

		payload := `{"id":"s1","vendorData":"user-1"}`
		ing.On("HandleInbound", mock.Anything, mock.MatchedBy(func(req ingest.InboundRequest) bool {
			return req.Vendor == "veriff" &&
				string(req.Body) == payload &&
				req.Headers["X-Hmac-Signature"] == "abc" &&
				req.UserAgent == "veriff-hooks"
		})).Return(ingest.Ack{Received: true, EventID: "s1:decision:approved", Disposition: ingest.DispositionProcessed}, nil)

		req := httptest.NewRequest("POST", "/v1/webhooks/veriff", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-HMAC-SIGNATURE", "abc")
		req.Header.Set("User-Agent", "veriff-hooks")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var ack ingest.Ack
		decode(t, resp.Body, &ack)
		assert.True(t, ack.Received)
		assert.False(t, ack.Duplicate)
		assert.Equal(t, ingest.DispositionProcessed, ack.Disposition)
		ing.AssertExpectations(t)
	})

	t.Run("duplicate is still 200", func(t *testing.T) {
		ing := new(MockIngestor)
		app := newTestApp()
		app.Post("/v1/webhooks/:vendor", NewWebhookHandler(ing).Receive)

		ing.On("HandleInbound", mock.Anything, mock.Anything).
			Return(ingest.Ack{Received: true, EventID: "e1", Duplicate: true, Disposition: ingest.DispositionDuplicate}, nil)

		resp, err := app.Test(httptest.NewRequest("POST", "/v1/webhooks/generic", strings.NewReader(`{}`)))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var ack ingest.Ack
		decode(t, resp.Body, &ack)
		assert.True(t, ack.Duplicate)
	})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid signature", domain.ErrInvalidSignature, 401, "INVALID_SIGNATURE"},
		{"unknown vendor", domain.ErrUnknownVendor, 404, "UNKNOWN_VENDOR"},
		{"ledger unavailable", domain.ErrLedgerUnavailable.WithError(errors.New("db down")), 503, "LEDGER_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := new(MockIngestor)
			app := newTestApp()
			app.Post("/v1/webhooks/:vendor", NewWebhookHandler(ing).Receive)

			ing.On("HandleInbound", mock.Anything, mock.Anything).Return(ingest.Ack{}, tt.err)

			resp, err := app.Test(httptest.NewRequest("POST", "/v1/webhooks/veriff", strings.NewReader(`{}`)))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body errorBody
			decode(t, resp.Body, &body)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			if tt.wantStatus == 503 {
				assert.Equal(t, "5", resp.Header.Get("Retry-After"))
			}
		})
	}
}

func TestVerificationHandler_GetStatus(t *testing.T) {
	t.Run("returns record", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/verifications/:subject_ref", NewVerificationHandler(svc).GetStatus)

		svc.On("GetVerificationStatus", mock.Anything, "user-1").Return(&domain.VerificationRecord{
			SubjectRef: "user-1",
			Vendor:     "veriff",
			Status:     domain.StatusApproved,
			IsVerified: true,
		}, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/verifications/user-1", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var rec domain.VerificationRecord
		decode(t, resp.Body, &rec)
		assert.Equal(t, domain.StatusApproved, rec.Status)
		assert.True(t, rec.IsVerified)
	})

	t.Run("missing record is 404", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/verifications/:subject_ref", NewVerificationHandler(svc).GetStatus)

		svc.On("GetVerificationStatus", mock.Anything, "nobody").Return(nil, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/verifications/nobody", nil))
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)

		var body errorBody
		decode(t, resp.Body, &body)
		assert.Equal(t, "VERIFICATION_NOT_FOUND", body.Error.Code)
	})
}

func TestVerificationHandler_ListEvents(t *testing.T) {
	t.Run("maps query parameters to filter", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/events", NewVerificationHandler(svc).ListEvents)

		svc.On("ListEvents", mock.Anything, repository.EventFilter{
			Status:     domain.ProcessingError,
			Vendor:     "veriff",
			SubjectRef: "user-1",
			Limit:      10,
			Offset:     20,
		}).Return([]domain.VerificationEvent{{ID: uuid.New(), EventID: "e1"}}, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/events?status=error&vendor=veriff&subject_ref=user-1&limit=10&offset=20", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var body EventListResponse
		decode(t, resp.Body, &body)
		assert.Equal(t, 1, body.Count)
		svc.AssertExpectations(t)
	})

	t.Run("defaults and caps limit", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/events", NewVerificationHandler(svc).ListEvents)

		svc.On("ListEvents", mock.Anything, repository.EventFilter{Limit: defaultEventLimit}).Return(nil, nil).Once()
		svc.On("ListEvents", mock.Anything, repository.EventFilter{Limit: maxEventLimit}).Return(nil, nil).Once()

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/events", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var body EventListResponse
		decode(t, resp.Body, &body)
		assert.NotNil(t, body.Events)
		assert.Equal(t, 0, body.Count)

		resp, err = app.Test(httptest.NewRequest("GET", "/v1/events?limit=100000", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		svc.AssertExpectations(t)
	})

	t.Run("non-numeric limit is 422", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/events", NewVerificationHandler(svc).ListEvents)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/events?limit=ten", nil))
		require.NoError(t, err)
		assert.Equal(t, 422, resp.StatusCode)
		svc.AssertNotCalled(t, "ListEvents", mock.Anything, mock.Anything)
	})

	t.Run("service validation error surfaces", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/events", NewVerificationHandler(svc).ListEvents)

		svc.On("ListEvents", mock.Anything, mock.Anything).Return(nil, domain.ErrValidationFailed)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/events?status=bogus", nil))
		require.NoError(t, err)
		assert.Equal(t, 422, resp.StatusCode)
	})
}

func TestVerificationHandler_GetEvent(t *testing.T) {
	t.Run("includes raw payload", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/events/:id", NewVerificationHandler(svc).GetEvent)

		id := uuid.New()
		svc.On("GetEvent", mock.Anything, id).Return(&domain.VerificationEvent{
			ID:               id,
			Vendor:           "generic",
			EventID:          "e1",
			SubjectRef:       "user-1",
			EventType:        domain.EventSubmitted,
			RawPayload:       []byte(`{"event_type":"submitted"}`),
			ReceivedAt:       time.Now().UTC(),
			ProcessingStatus: domain.ProcessingSuccess,
		}, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/events/"+id.String(), nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var body map[string]any
		decode(t, resp.Body, &body)
		assert.Equal(t, "e1", body["event_id"])
		assert.Equal(t, map[string]any{"event_type": "submitted"}, body["raw_payload"])
	})

	t.Run("invalid payload is omitted", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/events/:id", NewVerificationHandler(svc).GetEvent)

		id := uuid.New()
		svc.On("GetEvent", mock.Anything, id).Return(&domain.VerificationEvent{
			ID:         id,
			RawPayload: []byte(`not json`),
		}, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/events/"+id.String(), nil))
		require.NoError(t, err)

		var body map[string]any
		decode(t, resp.Body, &body)
		_, ok := body["raw_payload"]
		assert.False(t, ok)
	})

	t.Run("bad id is 400", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/events/:id", NewVerificationHandler(svc).GetEvent)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/events/not-a-uuid", nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("not found is 404", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Get("/v1/events/:id", NewVerificationHandler(svc).GetEvent)

		svc.On("GetEvent", mock.Anything, mock.Anything).Return(nil, domain.ErrEventNotFound)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/events/"+uuid.NewString(), nil))
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)
	})
}

func TestVerificationHandler_ReplayEvent(t *testing.T) {
	t.Run("replays with caller as actor", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Post("/v1/events/:id/replay", func(c *fiber.Ctx) error {
			c.Locals(middleware.LocalAPIKeyPrefix, "idv_live_ab")
			return c.Next()
		}, NewVerificationHandler(svc).ReplayEvent)

		id := uuid.New()
		svc.On("ReplayEvent", mock.Anything, id, "idv_live_ab").Return(ingest.DispositionProcessed, nil)

		resp, err := app.Test(httptest.NewRequest("POST", "/v1/events/"+id.String()+"/replay", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var body ReplayResponse
		decode(t, resp.Body, &body)
		assert.Equal(t, id.String(), body.ID)
		assert.Equal(t, ingest.DispositionProcessed, body.Disposition)
	})

	t.Run("non-failed event is 409", func(t *testing.T) {
		svc := new(MockVerificationService)
		app := newTestApp()
		app.Post("/v1/events/:id/replay", NewVerificationHandler(svc).ReplayEvent)

		svc.On("ReplayEvent", mock.Anything, mock.Anything, mock.Anything).Return(ingest.Disposition(""), domain.ErrEventNotReplayable)

		resp, err := app.Test(httptest.NewRequest("POST", "/v1/events/"+uuid.NewString()+"/replay", nil))
		require.NoError(t, err)
		assert.Equal(t, 409, resp.StatusCode)

		var body errorBody
		decode(t, resp.Body, &body)
		assert.Equal(t, "EVENT_NOT_REPLAYABLE", body.Error.Code)
	})
}

func TestHealthHandler_Health(t *testing.T) {
	app := fiber.New()
	app.Get("/health", NewHealthHandler(nil).Health)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var result HealthResponse
	decode(t, resp.Body, &result)
	assert.Equal(t, "ok", result.Status)
	assert.NotEmpty(t, result.Version)
}

func TestHealthHandler_Ready(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		app := fiber.New()
		app.Get("/ready", NewHealthHandler(map[string]Pinger{"postgres": stubPinger{}}).Ready)

		resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		var result HealthResponse
		decode(t, resp.Body, &result)
		assert.Equal(t, "ready", result.Status)
		assert.Equal(t, "ok", result.Checks["postgres"])
	})

	t.Run("failed ping is 503", func(t *testing.T) {
		app := fiber.New()
		app.Get("/ready", NewHealthHandler(map[string]Pinger{
			"postgres": stubPinger{},
			"redis":    stubPinger{err: errors.New("connection refused")},
		}).Ready)

		resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
		require.NoError(t, err)
		assert.Equal(t, 503, resp.StatusCode)

		var result HealthResponse
		decode(t, resp.Body, &result)
		assert.Equal(t, "unavailable", result.Status)
		assert.Equal(t, "connection refused", result.Checks["redis"])
	})
}
