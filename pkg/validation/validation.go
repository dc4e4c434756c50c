// Package validation checks release entries against the permitted
// combination matrix.
package validation

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/robert-cronin/imagerelease/pkg/types"
)

var threePartVersion = regexp.MustCompile(`\d+\.\d+\.\d+`)

const (
	cudaMarker   = "cu"
	osMarker     = "ubuntu"
	pythonMarker = "py"
)

type releaseKey struct {
	device  types.Device
	version string
}

// Validate accepts the set only if every release matches a permitted
// combination and no two releases share a device and version. Only the
// first rule whose framework, device and version range match is consulted
// for a release; a field mismatch against that rule fails validation even if
// a later rule would have accepted it.
func Validate(set *types.ReleaseConfigSet) error {
	seen := sets.New[releaseKey]()
	for _, entry := range set.Releases {
		allowed, ok := FirstMatch(entry, set.PermittedCombinations)
		if !ok {
			return &types.NoPermittedCombinationError{Entry: entry}
		}
		if err := checkFields(entry, allowed); err != nil {
			return err
		}
		log.Infof("The following release: %s is permitted with: %s", entry, allowed)
		seen.Insert(releaseKey{device: entry.Device, version: entry.Version})
	}
	if seen.Len() != len(set.Releases) {
		return &types.DuplicateReleaseError{Releases: set.Releases}
	}
	return nil
}

// FirstMatch returns the first rule in matrix order whose framework and
// device equal the entry's and whose inclusive version range contains it.
// Versions are compared as semantic versions of at most three numeric parts;
// anything else, four-part versions included, matches no rule.
func FirstMatch(entry types.ReleaseEntry, matrix []types.PermittedCombination) (types.PermittedCombination, bool) {
	version, err := semver.NewVersion(entry.Version)
	if err != nil {
		log.Debugf("release version %q is not a semantic version: %v", entry.Version, err)
		return types.PermittedCombination{}, false
	}
	for _, rule := range matrix {
		if rule.Framework != entry.Framework || rule.Device != entry.Device {
			continue
		}
		if inRange(version, rule) {
			return rule, true
		}
	}
	return types.PermittedCombination{}, false
}

func inRange(v *semver.Version, rule types.PermittedCombination) bool {
	lo, err := semver.NewVersion(rule.MinVersion)
	if err != nil {
		log.Debugf("skipping rule %s: bad min_version: %v", rule, err)
		return false
	}
	hi, err := semver.NewVersion(rule.MaxVersion)
	if err != nil {
		log.Debugf("skipping rule %s: bad max_version: %v", rule, err)
		return false
	}
	return !v.LessThan(lo) && !v.GreaterThan(hi)
}

func checkFields(entry types.ReleaseEntry, allowed types.PermittedCombination) error {
	invalid := func(field string) error {
		return &types.InvalidFieldError{Field: field, Entry: entry, Allowed: allowed}
	}

	switch entry.Device {
	case types.DeviceINF2:
		if entry.CudaVersion != nil {
			return invalid("cuda_version")
		}
	case types.DeviceGPU:
		if entry.CudaVersion == nil || allowed.CudaVersion == nil ||
			!strings.Contains(*entry.CudaVersion, cudaMarker) ||
			*entry.CudaVersion != *allowed.CudaVersion {
			return invalid("cuda_version")
		}
	}

	if !threePartVersion.MatchString(entry.Version) {
		return invalid("version")
	}
	if !strings.Contains(entry.OSVersion, osMarker) || entry.OSVersion != allowed.OSVersion {
		return invalid("os_version")
	}

	// TEI releases do not pin python or pytorch.
	if entry.Framework == types.FrameworkTEI {
		return nil
	}
	if !strings.Contains(entry.PythonVersion, pythonMarker) || entry.PythonVersion != allowed.PythonVersion {
		return invalid("python_version")
	}
	if !threePartVersion.MatchString(entry.PytorchVersion) || entry.PytorchVersion != allowed.PytorchVersion {
		return invalid("pytorch_version")
	}
	return nil
}
