package orchestrator

import (
	"fmt"

	"github.com/robert-cronin/imagerelease/pkg/source"
	"github.com/robert-cronin/imagerelease/pkg/types"
)

const (
	tgiRepoURL = "https://github.com/huggingface/text-generation-inference.git"
	teiRepoURL = "https://github.com/huggingface/text-embeddings-inference.git"
	tagPattern = "v%s"

	// overlayDir is copied into external checkouts so Dockerfiles can COPY
	// from it.
	overlayDir = "huggingface"
)

type releaseFlavour int

const (
	// releaseDownstream hands images to the DLC pipeline.
	releaseDownstream releaseFlavour = iota
	// releaseDirect publishes to the JumpStart repositories.
	releaseDirect
)

// profile is what differs between frameworks across the phases.
type profile struct {
	external *source.External
	// externalDevices limits the checkout to these devices. Empty means all.
	externalDevices []types.Device
	release         releaseFlavour
}

var profiles = map[types.Framework]profile{
	types.FrameworkTGI: {
		external: &source.External{
			URL:        tgiRepoURL,
			Folder:     "text-generation-inference",
			TagPattern: tagPattern,
		},
		externalDevices: []types.Device{types.DeviceGPU},
		release:         releaseDownstream,
	},
	types.FrameworkTEI: {
		external: &source.External{
			URL:        teiRepoURL,
			Folder:     "text-embeddings-inference",
			TagPattern: tagPattern,
			Submodules: true,
		},
		release: releaseDirect,
	},
	types.FrameworkTGILlamaCpp: {
		external: &source.External{
			URL:        tgiRepoURL,
			Folder:     "tgi-llamacpp",
			TagPattern: tagPattern,
		},
		release: releaseDirect,
	},
}

func profileFor(f types.Framework) (profile, error) {
	p, ok := profiles[f]
	if !ok {
		return profile{}, &types.MalformedConfigError{Reason: fmt.Sprintf("framework %s cannot be released", f)}
	}
	return p, nil
}

// needsExternal reports whether d is built from the external checkout.
func (p profile) needsExternal(d types.Device) bool {
	if p.external == nil {
		return false
	}
	if len(p.externalDevices) == 0 {
		return true
	}
	for _, allowed := range p.externalDevices {
		if allowed == d {
			return true
		}
	}
	return false
}
