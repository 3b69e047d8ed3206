package domain

import (
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches AppErrors by code so wrapped copies from WithError still match their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid or missing API key",
		StatusCode: 401,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded, please try again later",
		StatusCode: 429,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}

	// Webhook ingestion errors
	ErrInvalidSignature = &AppError{
		Code:       "INVALID_SIGNATURE",
		Message:    "Webhook signature verification failed",
		StatusCode: 401,
	}

	ErrUnknownVendor = &AppError{
		Code:       "UNKNOWN_VENDOR",
		Message:    "Unknown verification vendor",
		StatusCode: 404,
	}

	ErrMalformedPayload = &AppError{
		Code:       "MALFORMED_PAYLOAD",
		Message:    "Webhook payload could not be parsed",
		StatusCode: 422,
	}

	ErrMissingSubject = &AppError{
		Code:       "MISSING_SUBJECT",
		Message:    "Webhook payload carries no subject reference",
		StatusCode: 422,
	}

	ErrLedgerUnavailable = &AppError{
		Code:       "LEDGER_UNAVAILABLE",
		Message:    "Event could not be recorded, retry later",
		StatusCode: 503,
	}

	// Query errors
	ErrVerificationNotFound = &AppError{
		Code:       "VERIFICATION_NOT_FOUND",
		Message:    "No verification record for this subject",
		StatusCode: 404,
	}

	ErrEventNotFound = &AppError{
		Code:       "EVENT_NOT_FOUND",
		Message:    "Verification event not found",
		StatusCode: 404,
	}

	ErrEventNotReplayable = &AppError{
		Code:       "EVENT_NOT_REPLAYABLE",
		Message:    "Only failed events can be replayed",
		StatusCode: 409,
	}
)
