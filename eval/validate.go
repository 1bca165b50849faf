package eval

import (
	"fmt"
	"strings"

	"github.com/wailsapp/mimetype"
)

// ValidateCode checks the submitted payload. Size and binary checks are
// permanent validation failures; they never enter the queue.
func ValidateCode(code string, limits NodeLimits) error {
	if code == "" {
		return ErrInvalidReqs().SetDebug(fmt.Errorf("empty code payload"))
	}
	if len(code) > limits.MaxCodeSizeB {
		return ErrPayloadTooLarge().SetDebug(
			fmt.Errorf("payload %d bytes, cap %d", len(code), limits.MaxCodeSizeB))
	}
	detected := mimetype.Detect([]byte(code))
	if !strings.HasPrefix(detected.String(), "text/") {
		return ErrBinaryPayload().SetDebug(
			fmt.Errorf("detected content type %s", detected.String()))
	}
	return nil
}

// ValidateReqs distinguishes impossible requests (above absolute node
// limits, never retryable) from merely invalid ones.
func ValidateReqs(reqs ResourceReqs, limits NodeLimits) error {
	if reqs.MemKiB <= 0 || reqs.CpuMs <= 0 || reqs.TimeoutSec <= 0 {
		return ErrInvalidReqs()
	}
	if reqs.MemKiB > limits.MaxMemKiB {
		return ErrImpossibleRequest(fmt.Sprintf(
			"memory %d KiB above node maximum %d KiB", reqs.MemKiB, limits.MaxMemKiB))
	}
	if reqs.CpuMs > limits.MaxCpuMs {
		return ErrImpossibleRequest(fmt.Sprintf(
			"cpu %d ms above node maximum %d ms", reqs.CpuMs, limits.MaxCpuMs))
	}
	if reqs.TimeoutSec > limits.MaxTimeoutSec {
		return ErrImpossibleRequest(fmt.Sprintf(
			"timeout %d s above node maximum %d s", reqs.TimeoutSec, limits.MaxTimeoutSec))
	}
	return nil
}

// Validate runs all synchronous submission checks.
func Validate(code string, reqs ResourceReqs, risk RiskLevel, limits NodeLimits) error {
	if err := ValidateCode(code, limits); err != nil {
		return err
	}
	if err := ValidateReqs(reqs, limits); err != nil {
		return err
	}
	if !risk.Valid() {
		return ErrInvalidRiskLevel()
	}
	return nil
}
