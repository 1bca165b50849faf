package eval

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evalforge/backend/srvcerror"
)

func TestValidateCodeRejectsOversizedPayload(t *testing.T) {
	limits := DefaultNodeLimits()
	code := strings.Repeat("a", limits.MaxCodeSizeB+1)

	err := ValidateCode(code, limits)
	require.Error(t, err)

	srvcErr := &srvcerror.Error{}
	require.True(t, errors.As(err, &srvcErr))
	require.Equal(t, ErrCodePayloadTooLarge, srvcErr.ErrorCode())
	require.False(t, srvcErr.Retryable())
}

func TestValidateCodeRejectsBinaryPayload(t *testing.T) {
	limits := DefaultNodeLimits()
	// ELF magic plus some junk
	code := "\x7fELF\x02\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00"

	err := ValidateCode(code, limits)
	require.Error(t, err)

	srvcErr := &srvcerror.Error{}
	require.True(t, errors.As(err, &srvcErr))
	require.Equal(t, ErrCodeBinaryPayload, srvcErr.ErrorCode())
}

func TestValidateCodeAcceptsPlainSource(t *testing.T) {
	limits := DefaultNodeLimits()
	require.NoError(t, ValidateCode("print('hello')\n", limits))
}

func TestValidateReqsImpossibleRequest(t *testing.T) {
	limits := DefaultNodeLimits()

	err := ValidateReqs(ResourceReqs{
		MemKiB:     limits.MaxMemKiB * 2,
		CpuMs:      100,
		TimeoutSec: 5,
	}, limits)
	require.Error(t, err)

	srvcErr := &srvcerror.Error{}
	require.True(t, errors.As(err, &srvcErr))
	require.Equal(t, ErrCodeImpossibleRequest, srvcErr.ErrorCode())
	require.False(t, srvcErr.Retryable(), "impossible requests must never be retried")
}

func TestValidateReqsRejectsNonPositiveValues(t *testing.T) {
	limits := DefaultNodeLimits()
	require.Error(t, ValidateReqs(ResourceReqs{MemKiB: 0, CpuMs: 100, TimeoutSec: 5}, limits))
	require.Error(t, ValidateReqs(ResourceReqs{MemKiB: 1024, CpuMs: -1, TimeoutSec: 5}, limits))
	require.Error(t, ValidateReqs(ResourceReqs{MemKiB: 1024, CpuMs: 100, TimeoutSec: 0}, limits))
}

func TestValidateRejectsUnknownRiskLevel(t *testing.T) {
	limits := DefaultNodeLimits()
	reqs := ResourceReqs{MemKiB: 1024, CpuMs: 100, TimeoutSec: 5}

	require.NoError(t, Validate("print(1)", reqs, RiskUnknown, limits))
	require.Error(t, Validate("print(1)", reqs, RiskLevel("nope"), limits))
}
