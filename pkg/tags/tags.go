// Package tags derives the image URIs every phase agrees on. Derivation is
// pure apart from reading the clock for dated tags.
package tags

import (
	"fmt"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/name"
	"k8s.io/utils/clock"

	"github.com/robert-cronin/imagerelease/pkg/imageref"
	"github.com/robert-cronin/imagerelease/pkg/source"
	"github.com/robert-cronin/imagerelease/pkg/types"
)

const (
	ReleasedSuffix = "-released"

	dockerfileName       = "Dockerfile"
	dockerfilesRoot      = "huggingface"
	datedTagLayout       = "2006-01-02-15-04-05"
	dlcTagDescriptor     = "benchmark-tested"
	dlcAudience          = "DLC"
	jumpStartAudience    = "JumpStart"
	neuronxDeviceLabel   = "neuronx"
	optimumFrameworkName = "optimum"
)

// For testing.
var headCommit = source.HeadCommit

// ResolveCommit prefers the hash handed over by the build system and falls
// back to HEAD of the repository containing dir.
func ResolveCommit(override, dir string) (string, error) {
	if override != "" {
		return override, nil
	}
	return headCommit(dir)
}

// Context is the environment a Deriver computes URIs in.
type Context struct {
	CommitHash string
	// StagingRepoURI is host/repo of the internal staging repository.
	StagingRepoURI string
	DLCRepoURI     string
	// JumpStartRepoPrefix is completed with the framework name (and a device
	// suffix for CPU) to form the JumpStart repository.
	JumpStartRepoPrefix string
	// WorkDir is the checkout holding the huggingface Dockerfile tree.
	WorkDir string
}

type Deriver struct {
	ctx   Context
	clock clock.PassiveClock
}

func NewDeriver(ctx Context, c clock.PassiveClock) *Deriver {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Deriver{ctx: ctx, clock: c}
}

// StagingURI identifies the image of entry built from the current commit.
func (d *Deriver) StagingURI(entry types.ReleaseEntry) (string, error) {
	tag := fmt.Sprintf("%s-%s-%s", entry.Version, entry.Device, d.ctx.CommitHash)
	return checked(imageref.Join(d.ctx.StagingRepoURI, tag))
}

// ReleasedURI marks a staging image whose release completed.
func (d *Deriver) ReleasedURI(entry types.ReleaseEntry) (string, error) {
	staging, err := d.StagingURI(entry)
	if err != nil {
		return "", err
	}
	return checked(staging + ReleasedSuffix)
}

// DLCURIs returns the contractual base and dated URIs in the DLC repository.
func (d *Deriver) DLCURIs(entry types.ReleaseEntry) ([]string, error) {
	var base string
	switch entry.Device {
	case types.DeviceGPU:
		base = fmt.Sprintf("%s-tgi%s-%s-%s-%s-%s-%s",
			entry.PytorchVersion, entry.Version, entry.Device, entry.PythonVersion,
			deref(entry.CudaVersion), entry.OSVersion, dlcTagDescriptor)
	case types.DeviceINF2:
		base = fmt.Sprintf("%s-optimum%s-%s-%s-%s-%s",
			entry.PytorchVersion, entry.Version, neuronxDeviceLabel, entry.PythonVersion,
			entry.OSVersion, dlcTagDescriptor)
	default:
		return nil, &types.UnsupportedTagPatternError{Audience: dlcAudience, Device: entry.Device}
	}
	return d.withDated(d.ctx.DLCRepoURI, base)
}

// JumpStartURIs returns the base and dated URIs for direct publication.
func (d *Deriver) JumpStartURIs(entry types.ReleaseEntry) ([]string, error) {
	repo := d.ctx.JumpStartRepoPrefix + entry.Framework.Lower()
	var base string
	switch entry.Device {
	case types.DeviceGPU:
		base = fmt.Sprintf("%s-%s%s-gpu-%s-%s-%s",
			entry.PytorchVersion, entry.Framework.Lower(), entry.Version, entry.PythonVersion,
			deref(entry.CudaVersion), entry.OSVersion)
	case types.DeviceCPU:
		base = fmt.Sprintf("%s-%s%s-cpu-%s-%s",
			entry.PytorchVersion, entry.Framework.Lower(), entry.Version, entry.PythonVersion, entry.OSVersion)
		repo += "-" + entry.Device.String()
	default:
		return nil, &types.UnsupportedTagPatternError{Audience: jumpStartAudience, Device: entry.Device}
	}
	return d.withDated(repo, base)
}

// DockerfilePath locates the Dockerfile of entry under the work directory.
// TGI on INF2 is built from the optimum tree.
func (d *Deriver) DockerfilePath(entry types.ReleaseEntry) string {
	framework := entry.Framework.Lower()
	if entry.Framework == types.FrameworkTGI && entry.Device == types.DeviceINF2 {
		framework = optimumFrameworkName
	}
	dir := filepath.Join(dockerfilesRoot, "pytorch", framework, "docker", entry.Version)
	if framework != types.FrameworkTGI.Lower() && framework != optimumFrameworkName {
		dir = filepath.Join(dir, entry.Device.String())
	}
	return filepath.Join(d.ctx.WorkDir, dir, dockerfileName)
}

func (d *Deriver) withDated(repo, base string) ([]string, error) {
	dated := base + "-" + d.clock.Now().Format(datedTagLayout)
	uris := make([]string, 0, 2)
	for _, tag := range []string{base, dated} {
		uri, err := checked(imageref.Join(repo, tag))
		if err != nil {
			return nil, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

// checked rejects URIs that are not valid tagged references.
func checked(uri string) (string, error) {
	if _, err := name.NewTag(uri, name.StrictValidation); err != nil {
		return "", &types.MalformedImageURIError{URI: uri, Err: err}
	}
	return uri, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
