package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error categories. Every error type below unwraps to exactly one of them.
var (
	ErrInput           = errors.New("input error")
	ErrValidation      = errors.New("validation error")
	ErrExternalCall    = errors.New("external call error")
	ErrTimeout         = errors.New("timeout")
	ErrPolicyViolation = errors.New("policy violation")
)

type MalformedConfigError struct {
	Source string
	Reason string
	Err    error
}

func (e *MalformedConfigError) Error() string {
	msg := "malformed release config"
	if e.Source != "" {
		msg += " " + e.Source
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedConfigError) Unwrap() []error { return nonNil(ErrInput, e.Err) }

// InvalidSettingsError collects every missing or unusable process setting.
type InvalidSettingsError struct {
	Err error
}

func (e *InvalidSettingsError) Error() string {
	return fmt.Sprintf("invalid settings: %v", e.Err)
}

func (e *InvalidSettingsError) Unwrap() []error { return nonNil(ErrInput, e.Err) }

// UnsupportedDeviceError lists the device names, as written in the release
// config, that the framework cannot be released for.
type UnsupportedDeviceError struct {
	Framework Framework
	Devices   []string
}

func (e *UnsupportedDeviceError) Error() string {
	return fmt.Sprintf("releases for %s contain an unsupported device type: %v (allowed: %v)",
		e.Framework, e.Devices, FrameworkDevices[e.Framework])
}

func (e *UnsupportedDeviceError) Unwrap() error { return ErrInput }

type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("the mode %q is not recognized", e.Mode)
}

func (e *UnknownModeError) Unwrap() error { return ErrInput }

type MalformedImageURIError struct {
	URI     string
	Pattern string
	Err     error
}

func (e *MalformedImageURIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image URI %q is not a valid reference: %v", e.URI, e.Err)
	}
	return fmt.Sprintf("image URI %q does not match %q", e.URI, e.Pattern)
}

func (e *MalformedImageURIError) Unwrap() []error { return nonNil(ErrInput, e.Err) }

type UnsupportedTagPatternError struct {
	Audience string
	Device   Device
}

func (e *UnsupportedTagPatternError) Error() string {
	return fmt.Sprintf("no %s tag pattern associated with device type %q", e.Audience, e.Device)
}

func (e *UnsupportedTagPatternError) Unwrap() error { return ErrInput }

type NoParameterMappingError struct {
	Device Device
}

func (e *NoParameterMappingError) Error() string {
	return fmt.Sprintf("no parameter configurations associated with device: %s", e.Device)
}

func (e *NoParameterMappingError) Unwrap() error { return ErrInput }

type UnknownPipelineError struct {
	Device Device
}

func (e *UnknownPipelineError) Error() string {
	return fmt.Sprintf("no downstream pipeline name associated with device type: %s", e.Device)
}

func (e *UnknownPipelineError) Unwrap() error { return ErrInput }

type NoPermittedCombinationError struct {
	Entry ReleaseEntry
}

func (e *NoPermittedCombinationError) Error() string {
	return fmt.Sprintf("no permitted combination found matching framework version and device: %s", e.Entry)
}

func (e *NoPermittedCombinationError) Unwrap() error { return ErrValidation }

type DuplicateReleaseError struct {
	Releases []ReleaseEntry
}

func (e *DuplicateReleaseError) Error() string {
	return fmt.Sprintf("there are duplicate device/framework releases: %v", e.Releases)
}

func (e *DuplicateReleaseError) Unwrap() error { return ErrValidation }

// InvalidFieldError reports a field of an entry that breaks the rule it
// was matched against.
type InvalidFieldError struct {
	Field   string
	Entry   ReleaseEntry
	Allowed PermittedCombination
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s specified: %s, allowed: %s", e.Field, e.Entry, e.Allowed)
}

func (e *InvalidFieldError) Unwrap() error { return ErrValidation }

// ExternalCallError wraps a failure of the registry, the container engine,
// git or a child process.
type ExternalCallError struct {
	Op  string
	Err error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalCallError) Unwrap() []error { return nonNil(ErrExternalCall, e.Err) }

type ScanTimeoutError struct {
	ImageURI string
	Entry    ReleaseEntry
	Waited   time.Duration
}

func (e *ScanTimeoutError) Error() string {
	return fmt.Sprintf("%s with config %s has not completed scanning beyond permitted wait time (%v)",
		e.ImageURI, e.Entry, e.Waited)
}

func (e *ScanTimeoutError) Unwrap() error { return ErrTimeout }

type PipelineTimeoutError struct {
	Pipeline    string
	ExecutionID string
	Waited      time.Duration
}

func (e *PipelineTimeoutError) Error() string {
	return fmt.Sprintf("pipeline %q with execution ID %s still in progress after %v",
		e.Pipeline, e.ExecutionID, e.Waited)
}

func (e *PipelineTimeoutError) Unwrap() error { return ErrTimeout }

type VulnerabilityFoundError struct {
	ImageURI        string
	Entry           ReleaseEntry
	Vulnerabilities []string
}

func (e *VulnerabilityFoundError) Error() string {
	return fmt.Sprintf("%s with %s has vulnerabilities: %s",
		e.ImageURI, e.Entry, strings.Join(e.Vulnerabilities, ", "))
}

func (e *VulnerabilityFoundError) Unwrap() error { return ErrPolicyViolation }

type PipelineFailedError struct {
	Pipeline    string
	ExecutionID string
	Status      PipelineStatus
}

func (e *PipelineFailedError) Error() string {
	return fmt.Sprintf("pipeline %q with execution ID %s was not successful: %s",
		e.Pipeline, e.ExecutionID, e.Status)
}

func (e *PipelineFailedError) Unwrap() error { return ErrPolicyViolation }

// TestFailureError is returned when the test harness exits non-zero.
// Output holds the tail of the harness stderr.
type TestFailureError struct {
	Entry    ReleaseEntry
	ExitCode int
	Output   string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("tests failed with config %s (exit code %d): %s", e.Entry, e.ExitCode, e.Output)
}

func (e *TestFailureError) Unwrap() error { return ErrPolicyViolation }

func nonNil(errs ...error) []error {
	out := errs[:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
