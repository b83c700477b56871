package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	var syntaxErr error = &json.SyntaxError{}

	cases := []struct {
		name      string
		err       error
		kind      ErrorKind
		transient bool
	}{
		{"rate limit status", fmt.Errorf("chat: %w", &llm.StatusError{StatusCode: 429}), KindRateLimited, true},
		{"unauthorized", &llm.StatusError{StatusCode: 401}, KindAuthFailed, false},
		{"bad gateway", &llm.StatusError{StatusCode: 502}, KindServiceUnavailable, true},
		{"gateway timeout", &llm.StatusError{StatusCode: 504}, KindTimedOut, true},
		{"unprocessable", &llm.StatusError{StatusCode: 422}, KindOther, false},
		{"body rate error", &llm.Error{Type: "rate_limit_exceeded", Message: "slow down"}, KindRateLimited, true},
		{"body auth error", &llm.Error{Type: "invalid_request_error", Code: "invalid_api_key"}, KindAuthFailed, false},
		{"body overloaded", &llm.Error{Type: "overloaded_error"}, KindServiceUnavailable, true},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), KindTimedOut, true},
		{"net timeout", fmt.Errorf("wrap: %w", timeoutError{}), KindTimedOut, true},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindServiceUnavailable, true},
		{"bad json", fmt.Errorf("parse: %w", syntaxErr), KindMalformedResponse, false},
		{"anything else", errors.New("boom"), KindOther, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Classify(tc.err)
			assert.Equal(t, tc.kind, got.Kind)
			assert.Equal(t, tc.transient, got.Transient())
			assert.Equal(t, tc.transient, IsTransient(tc.err))
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

func TestClassify_KeepsClientError(t *testing.T) {
	t.Parallel()

	original := &ClientError{Kind: KindMalformedResponse, Message: "bad"}
	assert.Same(t, original, Classify(fmt.Errorf("wrap: %w", original)))
	assert.Nil(t, Classify(nil))
	assert.False(t, IsTransient(nil))
}

func TestClientError_Message(t *testing.T) {
	t.Parallel()

	err := &ClientError{Kind: KindRateLimited, Message: "rate limited by provider", StatusCode: 429, Err: errors.New("body")}
	assert.Equal(t, "[rateLimited] rate limited by provider | status: 429 | cause: body", err.Error())
}
