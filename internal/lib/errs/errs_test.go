package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type pt string

func (p pt) String() string { return string(p) }

func TestKindOf(t *testing.T) {
	err := NotFound("SetStatus", "incident %s not found", "abc")
	wrapped := fmt.Errorf("handler: %w", err)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindNotFound))
	assert.False(t, Is(wrapped, KindValidation))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindInternal))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "SubmitReport: reporter is required",
		Validation("SubmitReport", "reporter is required").Error())

	upstream := Upstream("FetchAlternatives", errors.New("API error 503"))
	assert.Equal(t, "FetchAlternatives: API error 503", upstream.Error())

	noRoute := NoRoute("Compose", 1, pt("3.1,101.6"), pt("3.2,101.7"))
	assert.Contains(t, noRoute.Error(), "segment 1")
	assert.Contains(t, noRoute.Error(), "3.1,101.6 -> 3.2,101.7")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindUpstream, "op", nil))
	assert.NoError(t, Upstream("op", nil))
}

func TestGRPCStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{Validation("op", "bad"), codes.InvalidArgument},
		{NotFound("op", "missing"), codes.NotFound},
		{Upstream("op", errors.New("down")), codes.Unavailable},
		{Conflict("op", "lost race"), codes.Aborted},
		{NoRoute("op", 0, pt("a"), pt("b")), codes.FailedPrecondition},
		{Wrap(KindInternal, "op", errors.New("boom")), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(tt.err))
		})
	}
}
