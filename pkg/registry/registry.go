// Package registry talks to the image registry, the parameter store and the
// pipeline service on behalf of the release phases.
package registry

import (
	"context"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/robert-cronin/imagerelease/pkg/report"
	"github.com/robert-cronin/imagerelease/pkg/types"
)

// SessionName identifies assumed-role sessions of the release tooling.
const SessionName = "JumpStartLLMHosing"

// Registry is everything the release phases need from the cloud account.
type Registry interface {
	// AssumeRole returns a Registry acting as roleARN together with the
	// temporary keys of that session.
	AssumeRole(ctx context.Context, roleARN string) (Registry, types.Credentials, error)
	// Credentials returns a docker login for the registry hosting uri.
	Credentials(ctx context.Context, uri string) (username, password string, err error)
	ImageExists(ctx context.Context, uri string) (bool, error)
	// ScanFindings returns the scan status and enhanced findings of uri.
	ScanFindings(ctx context.Context, uri string) (*report.Report, error)
	// IsScanPending is true while the scan runs or before it has started.
	IsScanPending(ctx context.Context, uri string) (bool, error)
	// ImageScanFindings returns the titles of findings matching severities
	// that are not excluded.
	ImageScanFindings(ctx context.Context, uri string, severities sets.Set[types.Severity], excluded sets.Set[string]) ([]string, error)
	SetParameter(ctx context.Context, name, value string) error
	StartPipeline(ctx context.Context, name string) (executionID string, err error)
	PipelineStatus(ctx context.Context, name, executionID string) (types.PipelineStatus, error)
}
