// Package engine drives the local container engine: building, tagging and
// moving images between the host and registries.
package engine

import (
	"context"
)

// DefaultTarget is the Dockerfile stage serving images are built from.
const DefaultTarget = "sagemaker"

type BuildRequest struct {
	ImageURI   string
	Dockerfile string
	// ContextDir defaults to the current directory.
	ContextDir string
	// Target defaults to DefaultTarget.
	Target string
}

type Engine interface {
	Build(ctx context.Context, req BuildRequest) error
	Login(ctx context.Context, username, password, uri string) error
	Push(ctx context.Context, uri string) error
	Pull(ctx context.Context, uri string) error
	// Tag makes the local image src also available as dst.
	Tag(ctx context.Context, src, dst string) error
	// PruneAll removes every unused image, tagged or not.
	PruneAll(ctx context.Context) error
}
