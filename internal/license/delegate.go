package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDelegateUnavailable means the delegate cannot be run at all: the
	// script is missing or no interpreter passes the capability probe.
	ErrDelegateUnavailable = errors.New("license: validation delegate unavailable")
	// ErrDelegateInconclusive means the delegate ran but gave no usable
	// answer: timeout, non-zero exit, or empty or unparseable output.
	ErrDelegateInconclusive = errors.New("license: validation delegate inconclusive")
)

// Delegate verifies a license artifact out of band. Implementations must
// return ErrDelegateUnavailable or ErrDelegateInconclusive (possibly wrapped)
// for anything other than a conclusive answer.
type Delegate interface {
	Invoke(ctx context.Context, artifactPath string, timeout time.Duration) (Result, error)
}

// Prober is implemented by delegates that can report whether they are usable
// without validating an artifact.
type Prober interface {
	Probe(ctx context.Context) error
}

// Result is a conclusive delegate answer.
type Result struct {
	Valid         bool   `json:"valid"`
	Status        string `json:"status"`
	TrialMode     bool   `json:"trial_mode"`
	Error         string `json:"error,omitempty"`
	Devices       *int   `json:"devices,omitempty"`
	EPS           *int   `json:"eps,omitempty"`
	ExpiresSoon   bool   `json:"expires_soon"`
	DaysRemaining int    `json:"days_remaining"`
	ExpireDate    string `json:"expire_date,omitempty"`
	Customer      string `json:"customer,omitempty"`
}

// ParseResult decodes delegate output. The output must hold a JSON object
// with at least a boolean "valid" and a non-empty string "status". When the
// whole output is not JSON, the last non-empty line is tried, since
// validators commonly print diagnostics before the result.
func ParseResult(output []byte) (Result, error) {
	output = bytes.TrimSpace(output)
	if len(output) == 0 {
		return Result{}, fmt.Errorf("%w: empty output", ErrDelegateInconclusive)
	}

	res, err := parseResult(output)
	if err == nil {
		return res, nil
	}
	if i := bytes.LastIndexByte(output, '\n'); i >= 0 {
		if res, lastErr := parseResult(bytes.TrimSpace(output[i+1:])); lastErr == nil {
			return res, nil
		}
	}
	return Result{}, err
}

func parseResult(data []byte) (Result, error) {
	var probe struct {
		Valid  *bool   `json:"valid"`
		Status *string `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Result{}, fmt.Errorf("%w: unparseable output: %v", ErrDelegateInconclusive, err)
	}
	if probe.Valid == nil || probe.Status == nil || *probe.Status == "" {
		return Result{}, fmt.Errorf("%w: output lacks valid or status", ErrDelegateInconclusive)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("%w: unparseable output: %v", ErrDelegateInconclusive, err)
	}
	return res, nil
}
