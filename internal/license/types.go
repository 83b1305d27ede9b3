package license

import (
	"marslog/internal/trial"
)

// Status is the verdict status. Delegate answers pass through verbatim, so a
// Status may hold values beyond the constants below.
type Status string

const (
	StatusNoLicenseFile  Status = "No License File"
	StatusTrialMode      Status = "Trial Mode"
	StatusTrialExpired   Status = "Trial Expired"
	StatusInvalidLicense Status = "Invalid License"
	StatusLicensed       Status = "Licensed"
)

// Unlimited marks a limit the license does not cap.
const Unlimited = -1

// Source records which tier produced a verdict.
type Source string

const (
	SourceDelegate Source = "delegate"
	SourceTrial    Source = "trial"
)

// Limits are the capacity limits in force under a verdict.
type Limits struct {
	Devices int `json:"devices"`
	EPS     int `json:"eps"`
}

// AllowsDevice reports whether one more device fits next to current.
func (l Limits) AllowsDevice(current int) bool {
	return l.Devices == Unlimited || current < l.Devices
}

// Verdict is the outcome of one license evaluation.
type Verdict struct {
	Valid     bool        `json:"valid"`
	Status    Status      `json:"status"`
	TrialMode bool        `json:"trial_mode"`
	Trial     trial.State `json:"trial"`
	Error     string      `json:"error,omitempty"`

	// License expiry as reported by the delegate.
	ExpiresSoon   bool   `json:"expires_soon"`
	DaysRemaining int    `json:"days_remaining"`
	ExpireDate    string `json:"expire_date,omitempty"`
	Customer      string `json:"customer,omitempty"`

	Limits Limits `json:"limits"`
	Source Source `json:"source"`
}

// ActivationResult is the outcome of ActivateTrial.
type ActivationResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Trial   trial.State `json:"trial"`
	Path    string      `json:"path,omitempty"`
}

// ResetResult is the outcome of ResetTrial.
type ResetResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SystemInfo reports the environment capabilities behind a verdict.
type SystemInfo struct {
	LicenseFile       string `json:"license_file"`
	LicenseExists     bool   `json:"license_exists"`
	TrialFile         string `json:"trial_file"`
	TrialWritable     bool   `json:"trial_writable"`
	DelegateAvailable bool   `json:"delegate_available"`
	StoreBackend      string `json:"store_backend"`
}

// Info is the diagnostic snapshot returned by Validator.Info.
type Info struct {
	Verdict    Verdict     `json:"verdict"`
	Trial      trial.State `json:"trial"`
	SystemInfo SystemInfo  `json:"system_info"`
}

// Result messages.
const (
	MsgTrialAlreadyStarted = "Trial already started"
	MsgTrialStarted        = "Trial started successfully"
	MsgTrialPermission     = "Failed to start trial - permission denied"
	MsgTrialReset          = "Trial reset successfully"
	MsgTrialResetFailed    = "Failed to reset trial"
	MsgTrialNotStarted     = "No trial record to reset"

	msgNoLicense      = "License file not found"
	msgTrialExpired   = "Trial period has expired and no valid license found"
	msgInvalidLicense = "License could not be validated"
)
