package releaseconfig

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/robert-cronin/imagerelease/pkg/types"
)

// DefaultFile is the release config looked up in the working directory.
const DefaultFile = "releases.json"

type combination struct {
	Device         *string `json:"device"`
	MinVersion     *string `json:"min_version"`
	MaxVersion     *string `json:"max_version"`
	OSVersion      *string `json:"os_version"`
	PythonVersion  string  `json:"python_version"`
	PytorchVersion string  `json:"pytorch_version"`
	CudaVersion    *string `json:"cuda_version"`
}

type release struct {
	Framework      *string `json:"framework"`
	Device         *string `json:"device"`
	Version        *string `json:"version"`
	OSVersion      *string `json:"os_version"`
	PythonVersion  string  `json:"python_version"`
	PytorchVersion string  `json:"pytorch_version"`
	CudaVersion    *string `json:"cuda_version"`
}

type document struct {
	PermittedCombinations map[string][]combination `json:"permitted_combinations"`
	IgnoreVulnerabilities []string                 `json:"ignore_vulnerabilities"`
	Releases              []release                `json:"releases"`
}

// LoadFile reads the release config at path. See Load.
func LoadFile(path string, framework types.Framework, device types.Device) (*types.ReleaseConfigSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.MalformedConfigError{Source: path, Err: err}
	}
	defer f.Close()
	set, err := Load(f, framework, device)
	if err != nil {
		var mce *types.MalformedConfigError
		if errors.As(err, &mce) && mce.Source == "" {
			mce.Source = path
		}
		return nil, err
	}
	return set, nil
}

// Load parses a release config and keeps only what concerns the current
// framework and device. Releases of other frameworks or devices are dropped,
// whatever their content, but a release of the current framework for a device
// the framework does not support (or does not exist) fails the whole load.
func Load(r io.Reader, framework types.Framework, device types.Device) (*types.ReleaseConfigSet, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, &types.MalformedConfigError{Err: errors.Wrap(err, "failed to read release config")}
	}
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &types.MalformedConfigError{Err: err}
	}

	combinations, err := mapCombinations(framework, doc.PermittedCombinations[string(framework)])
	if err != nil {
		return nil, err
	}
	log.Infof("Loaded permitted combinations for %s: %v", framework, combinations)

	ignore := sets.New[string](doc.IgnoreVulnerabilities...)
	log.Infof("Loaded ignore vulnerabilities: %v", sets.List(ignore))

	var (
		supported   []types.ReleaseEntry
		unsupported []string
	)
	for i, rel := range doc.Releases {
		if rel.Framework == nil {
			return nil, &types.MalformedConfigError{Reason: fmt.Sprintf("release[%d] requires framework", i)}
		}
		// Releases of other frameworks are dropped unparsed.
		if frameworkName(*rel.Framework) != framework {
			continue
		}
		if rel.Device == nil {
			return nil, &types.MalformedConfigError{Reason: fmt.Sprintf("release[%d] requires device", i)}
		}
		d, err := types.ParseDevice(*rel.Device)
		if err != nil || !framework.Supports(d) {
			unsupported = append(unsupported, strings.ToLower(strings.TrimSpace(*rel.Device)))
			continue
		}
		entry, err := mapRelease(i, framework, d, rel)
		if err != nil {
			return nil, err
		}
		supported = append(supported, entry)
	}
	if len(unsupported) > 0 {
		return nil, &types.UnsupportedDeviceError{Framework: framework, Devices: unsupported}
	}

	releases := make([]types.ReleaseEntry, 0, len(supported))
	for _, entry := range supported {
		if entry.Device == device {
			releases = append(releases, entry)
		}
	}
	log.Infof("Loaded releases for container %s with device type %q: %v", framework, device, releases)

	return &types.ReleaseConfigSet{
		Releases:              releases,
		PermittedCombinations: combinations,
		IgnoreVulnerabilities: ignore,
	}, nil
}

func mapCombinations(framework types.Framework, in []combination) ([]types.PermittedCombination, error) {
	out := make([]types.PermittedCombination, 0, len(in))
	for i, c := range in {
		if c.Device == nil || c.MinVersion == nil || c.MaxVersion == nil || c.OSVersion == nil {
			return nil, &types.MalformedConfigError{
				Reason: fmt.Sprintf("permitted combination %s[%d] requires device, min_version, max_version and os_version",
					framework, i),
			}
		}
		device, err := types.ParseDevice(*c.Device)
		if err != nil {
			return nil, err
		}
		out = append(out, types.PermittedCombination{
			Framework:      framework,
			Device:         device,
			MinVersion:     *c.MinVersion,
			MaxVersion:     *c.MaxVersion,
			OSVersion:      *c.OSVersion,
			PythonVersion:  c.PythonVersion,
			PytorchVersion: c.PytorchVersion,
			CudaVersion:    c.CudaVersion,
		})
	}
	return out, nil
}

// frameworkName upper-cases a framework as written in the release config
// without checking it is known.
func frameworkName(s string) types.Framework {
	return types.Framework(strings.ToUpper(strings.TrimSpace(s)))
}

func mapRelease(i int, framework types.Framework, device types.Device, r release) (types.ReleaseEntry, error) {
	if r.Version == nil || r.OSVersion == nil {
		return types.ReleaseEntry{}, &types.MalformedConfigError{
			Reason: fmt.Sprintf("release[%d] requires version and os_version", i),
		}
	}
	return types.ReleaseEntry{
		Framework:      framework,
		Device:         device,
		Version:        *r.Version,
		OSVersion:      *r.OSVersion,
		PythonVersion:  r.PythonVersion,
		PytorchVersion: r.PytorchVersion,
		CudaVersion:    r.CudaVersion,
	}, nil
}
