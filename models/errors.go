package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeTimeout      = "SCRAPE_TIMEOUT"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeFilesystem   = "FILESYSTEM_ERROR"
	ErrCodeSuperseded   = "SESSION_SUPERSEDED"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
// Only session-establishing failures (navigation, directory creation) are
// reported this way; per-candidate and per-record failures are aggregated.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the ScrapeError code carried anywhere in err's chain,
// or ErrCodeInternal.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// ClassificationKind says why a candidate was rejected during discovery.
type ClassificationKind string

const (
	ClassifyRequest     ClassificationKind = "request"
	ClassifyStatus      ClassificationKind = "status"
	ClassifyContentType ClassificationKind = "content_type"
	ClassifyDecode      ClassificationKind = "decode"
)

// ClassificationError rejects a single candidate. The scrape continues.
type ClassificationError struct {
	Kind   ClassificationKind
	URL    string
	Status int // HTTP status for ClassifyStatus, else 0
	Err    error
}

func (e *ClassificationError) Error() string {
	switch {
	case e.Kind == ClassifyStatus:
		return fmt.Sprintf("classify %s: HTTP %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("classify %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("classify %s: %s", e.URL, e.Kind)
	}
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the candidate was rejected with HTTP 404.
func (e *ClassificationError) NotFound() bool {
	return e.Kind == ClassifyStatus && e.Status == 404
}

// DownloadError is a single record's transfer failure. The batch continues.
type DownloadError struct {
	URL    string
	Status int // non-2xx status, or 0 for transport/filesystem failures
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the envelope for failures on endpoints without a
// richer response type.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
