package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/langs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/termmap"
)

// BatchRequest is one translation call. Blocks must be non-empty.
type BatchRequest struct {
	Blocks []subtitle.Block
	Target langs.Language
	// Model is passed to the provider untouched; empty uses the client default.
	Model string
	// Style overrides the target language's style profile when set.
	Style string
	// Terms are fixed renderings that must be used when they occur.
	Terms termmap.TermMap
	// Refresh asks caching clients to skip stored translations.
	Refresh bool
}

// Client translates a batch of blocks with a single provider call.
// On success the result has exactly one entry per block, in block order.
// Errors are always *ClientError.
type Client interface {
	TranslateBatch(ctx context.Context, req BatchRequest) ([]string, error)
}

// ErrorKind classifies a failed translation call.
type ErrorKind string

const (
	KindRateLimited        ErrorKind = "rateLimited"
	KindAuthFailed         ErrorKind = "authFailed"
	KindServiceUnavailable ErrorKind = "serviceUnavailable"
	KindTimedOut           ErrorKind = "timedOut"
	KindMalformedResponse  ErrorKind = "malformedResponse"
	KindOther              ErrorKind = "other"
)

// ClientError is the error type returned by Client implementations.
type ClientError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *ClientError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status: %d", e.StatusCode))
	}
	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Err))
	}
	return strings.Join(parts, " | ")
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is conventionally worth retrying.
func (e *ClientError) Transient() bool {
	switch e.Kind {
	case KindRateLimited, KindServiceUnavailable, KindTimedOut:
		return true
	default:
		return false
	}
}

func newClientError(kind ErrorKind, message string, err error) *ClientError {
	return &ClientError{Kind: kind, Message: message, Err: err}
}

// IsTransient classifies err and reports whether it should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Transient()
}

// Classify maps transport and provider errors onto a ClientError.
func Classify(err error) *ClientError {
	if err == nil {
		return nil
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}

	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr, err)
	}

	var apiErr *llm.Error
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return newClientError(KindMalformedResponse, "unparseable provider response", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newClientError(KindTimedOut, "request deadline exceeded", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newClientError(KindTimedOut, "request timed out", err)
		}
		return newClientError(KindServiceUnavailable, "network error", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newClientError(KindServiceUnavailable, "connection failed", err)
	}

	return newClientError(KindOther, "translation request failed", err)
}

func classifyStatus(statusErr *llm.StatusError, err error) *ClientError {
	ce := &ClientError{StatusCode: statusErr.StatusCode, Err: err}
	switch code := statusErr.StatusCode; {
	case code == http.StatusTooManyRequests:
		ce.Kind, ce.Message = KindRateLimited, "rate limited by provider"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		ce.Kind, ce.Message = KindAuthFailed, "authentication rejected"
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		ce.Kind, ce.Message = KindTimedOut, "provider timed out"
	case code >= http.StatusInternalServerError:
		ce.Kind, ce.Message = KindServiceUnavailable, "provider unavailable"
	default:
		ce.Kind, ce.Message = KindOther, "request rejected"
	}
	return ce
}

func classifyAPIError(apiErr *llm.Error, err error) *ClientError {
	desc := strings.ToLower(apiErr.Type + " " + fmt.Sprint(apiErr.Code) + " " + apiErr.Message)
	switch {
	case strings.Contains(desc, "rate") || strings.Contains(desc, "429"):
		return newClientError(KindRateLimited, "rate limited by provider", err)
	case strings.Contains(desc, "auth") || strings.Contains(desc, "api key") || strings.Contains(desc, "api_key"):
		return newClientError(KindAuthFailed, "authentication rejected", err)
	case strings.Contains(desc, "overloaded") || strings.Contains(desc, "server_error") || strings.Contains(desc, "unavailable"):
		return newClientError(KindServiceUnavailable, "provider unavailable", err)
	case strings.Contains(desc, "timeout"):
		return newClientError(KindTimedOut, "provider timed out", err)
	default:
		return newClientError(KindOther, "provider returned an error", err)
	}
}
