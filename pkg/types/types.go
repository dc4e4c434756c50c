package types

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

type Framework string

const (
	FrameworkTGI         Framework = "TGI"
	FrameworkOptimum     Framework = "OPTIMUM"
	FrameworkTEI         Framework = "TEI"
	FrameworkTGILlamaCpp Framework = "TGILLAMACPP"
)

// ParseFramework accepts any casing of a known framework name.
func ParseFramework(s string) (Framework, error) {
	f := Framework(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case FrameworkTGI, FrameworkOptimum, FrameworkTEI, FrameworkTGILlamaCpp:
		return f, nil
	}
	return "", &MalformedConfigError{Reason: fmt.Sprintf("unknown framework %q", s)}
}

// Lower is the form used in paths and tags.
func (f Framework) Lower() string {
	return strings.ToLower(string(f))
}

// Device is a hardware target. The zero value is not a valid device.
type Device int

const (
	DeviceUnknown Device = iota
	DeviceGPU
	DeviceINF2
	DeviceCPU
)

var (
	deviceToWire = map[Device]string{
		DeviceGPU:  "gpu",
		DeviceINF2: "inf2",
		DeviceCPU:  "cpu",
	}
	wireToDevice = map[string]Device{
		"gpu":  DeviceGPU,
		"inf2": DeviceINF2,
		"cpu":  DeviceCPU,
	}
)

// ParseDevice is the only place a device string is interpreted.
func ParseDevice(s string) (Device, error) {
	if d, ok := wireToDevice[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return DeviceUnknown, &MalformedConfigError{Reason: fmt.Sprintf("unknown device %q", s)}
}

// String returns the canonical lowercase wire form.
func (d Device) String() string {
	if s, ok := deviceToWire[d]; ok {
		return s
	}
	return "unknown"
}

// FrameworkDevices lists the devices each framework may be released for.
var FrameworkDevices = map[Framework][]Device{
	FrameworkTGI:         {DeviceGPU, DeviceINF2},
	FrameworkTEI:         {DeviceGPU, DeviceCPU},
	FrameworkTGILlamaCpp: {DeviceCPU},
}

// Supports reports whether d is in the allowed device set of f.
func (f Framework) Supports(d Device) bool {
	for _, allowed := range FrameworkDevices[f] {
		if allowed == d {
			return true
		}
	}
	return false
}

type Mode string

const (
	ModePR      Mode = "PR"
	ModeBuild   Mode = "BUILD"
	ModeTest    Mode = "TEST"
	ModeRelease Mode = "RELEASE"
)

func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	switch m {
	case ModePR, ModeBuild, ModeTest, ModeRelease:
		return m, nil
	}
	return "", &UnknownModeError{Mode: s}
}

type PipelineStatus string

const (
	PipelineInProgress   PipelineStatus = "IN_PROGRESS"
	PipelineSuccessful   PipelineStatus = "SUCCESSFUL"
	PipelineUnsuccessful PipelineStatus = "UNSUCCESSFUL"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
)

// ReleaseEntry is one concrete release to build, test and release.
type ReleaseEntry struct {
	Framework      Framework
	Device         Device
	Version        string
	OSVersion      string
	PythonVersion  string
	PytorchVersion string
	// CudaVersion is nil for devices that carry no CUDA toolkit.
	CudaVersion *string
}

func (e ReleaseEntry) String() string {
	cuda := "<none>"
	if e.CudaVersion != nil {
		cuda = *e.CudaVersion
	}
	return fmt.Sprintf("{framework=%s device=%s version=%s os=%s python=%s pytorch=%s cuda=%s}",
		e.Framework, e.Device, e.Version, e.OSVersion, e.PythonVersion, e.PytorchVersion, cuda)
}

// PermittedCombination is a rule of the release matrix. Apart from the
// version range every field must be matched exactly.
type PermittedCombination struct {
	Framework      Framework
	Device         Device
	MinVersion     string
	MaxVersion     string
	OSVersion      string
	PythonVersion  string
	PytorchVersion string
	CudaVersion    *string
}

func (p PermittedCombination) String() string {
	cuda := "<none>"
	if p.CudaVersion != nil {
		cuda = *p.CudaVersion
	}
	return fmt.Sprintf("{framework=%s device=%s range=[%s,%s] os=%s python=%s pytorch=%s cuda=%s}",
		p.Framework, p.Device, p.MinVersion, p.MaxVersion, p.OSVersion, p.PythonVersion, p.PytorchVersion, cuda)
}

type ReleaseConfigSet struct {
	Releases              []ReleaseEntry
	PermittedCombinations []PermittedCombination
	IgnoreVulnerabilities sets.Set[string]
}

// Finding is a single vulnerability reported by the registry scanner.
type Finding struct {
	Title    string
	Severity Severity
}

// Credentials are temporary keys of an assumed role.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}
