package engine

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/containerd/platforms"
	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	dockerClient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/robert-cronin/imagerelease/pkg/command"
	"github.com/robert-cronin/imagerelease/pkg/types"
)

// DefaultMaxJobs is passed to builds as MAX_JOBS when unset.
const DefaultMaxJobs = 4

// For testing.
var newClient = func() (dockerClient.APIClient, error) {
	return dockerClient.NewClientWithOpts(dockerClient.FromEnv, dockerClient.WithAPIVersionNegotiation())
}

// buildPlatform is the only platform serving images are built for.
var buildPlatform = platforms.Format(ocispec.Platform{OS: "linux", Architecture: "amd64"})

type Docker struct {
	cli     dockerClient.APIClient
	runner  command.Runner
	maxJobs int

	mu sync.Mutex
	// auths holds the encoded login of each registry host.
	auths map[string]string
}

var _ Engine = (*Docker)(nil)

// NewDocker connects to the engine configured in the environment. Builds go
// through runner since buildx is not exposed by the engine API.
func NewDocker(runner command.Runner, maxJobs int) (*Docker, error) {
	cli, err := newClient()
	if err != nil {
		return nil, &types.ExternalCallError{Op: "connect to docker", Err: err}
	}
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}
	return &Docker{cli: cli, runner: runner, maxJobs: maxJobs, auths: map[string]string{}}, nil
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

func (d *Docker) buildArgs(req BuildRequest) []string {
	target := req.Target
	if target == "" {
		target = DefaultTarget
	}
	contextDir := req.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	return []string{
		"buildx", "build",
		"--build-arg", "MAX_JOBS=" + strconv.Itoa(d.maxJobs),
		"--file", req.Dockerfile,
		"--target", target,
		"--platform", buildPlatform,
		"--provenance", "false",
		"--tag", req.ImageURI,
		"--load",
		contextDir,
	}
}

func (d *Docker) Build(ctx context.Context, req BuildRequest) error {
	args := d.buildArgs(req)
	log.Infof("Going to run the following build command: docker %s", strings.Join(args, " "))
	res, err := d.runner.Execute(ctx, command.Command{Executable: "docker", Args: args})
	if err != nil {
		return &types.ExternalCallError{Op: "build " + req.ImageURI, Err: err}
	}
	if res.ExitCode != 0 {
		return &types.ExternalCallError{
			Op:  "build " + req.ImageURI,
			Err: errors.Errorf("docker buildx exited with code %d: %s", res.ExitCode, command.Tail(res.Stderr, 2048)),
		}
	}
	log.Infof("Completed building Docker image: %s.", req.ImageURI)
	return nil
}

// registryHost returns the registry domain of an image reference.
func registryHost(uri string) (string, error) {
	named, err := reference.ParseNormalizedNamed(uri)
	if err != nil {
		return "", &types.MalformedImageURIError{URI: uri, Err: err}
	}
	return reference.Domain(named), nil
}

func (d *Docker) Login(ctx context.Context, username, password, uri string) error {
	log.Infof("Logging into url: %s.", uri)
	host, err := registryHost(uri)
	if err != nil {
		return err
	}
	auth := registry.AuthConfig{Username: username, Password: password, ServerAddress: host}
	if _, err := d.cli.RegistryLogin(ctx, auth); err != nil {
		return &types.ExternalCallError{Op: "login to " + host, Err: err}
	}
	encoded, err := registry.EncodeAuthConfig(auth)
	if err != nil {
		return &types.ExternalCallError{Op: "encode credentials for " + host, Err: err}
	}
	d.mu.Lock()
	d.auths[host] = encoded
	d.mu.Unlock()
	return nil
}

func (d *Docker) authFor(uri string) (string, error) {
	host, err := registryHost(uri)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auths[host], nil
}

func (d *Docker) Push(ctx context.Context, uri string) error {
	log.Infof("Pushing image URI: %s.", uri)
	auth, err := d.authFor(uri)
	if err != nil {
		return err
	}
	rc, err := d.cli.ImagePush(ctx, uri, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return &types.ExternalCallError{Op: "push " + uri, Err: err}
	}
	if err := displayStream(rc); err != nil {
		return &types.ExternalCallError{Op: "push " + uri, Err: err}
	}
	log.Infof("Pushed image URI: %s.", uri)
	return nil
}

func (d *Docker) Pull(ctx context.Context, uri string) error {
	log.Infof("Pulling image URI: %s.", uri)
	auth, err := d.authFor(uri)
	if err != nil {
		return err
	}
	rc, err := d.cli.ImagePull(ctx, uri, image.PullOptions{RegistryAuth: auth})
	if err != nil {
		return &types.ExternalCallError{Op: "pull " + uri, Err: err}
	}
	if err := displayStream(rc); err != nil {
		return &types.ExternalCallError{Op: "pull " + uri, Err: err}
	}
	log.Infof("Pulled image URI: %s.", uri)
	return nil
}

func (d *Docker) Tag(ctx context.Context, src, dst string) error {
	log.Infof("Tagging %s to %s.", src, dst)
	if err := d.cli.ImageTag(ctx, src, dst); err != nil {
		return &types.ExternalCallError{Op: "tag " + src + " as " + dst, Err: err}
	}
	return nil
}

func (d *Docker) PruneAll(ctx context.Context) error {
	log.Info("Going to prune all images.")
	report, err := d.cli.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "false")))
	if err != nil {
		return &types.ExternalCallError{Op: "prune images", Err: err}
	}
	log.Infof("Pruned %d images, reclaimed %d bytes.", len(report.ImagesDeleted), report.SpaceReclaimed)
	return nil
}

// displayStream logs an engine progress stream and returns the first error
// reported in it.
func displayStream(rc io.ReadCloser) error {
	defer rc.Close()
	out := log.StandardLogger().WriterLevel(log.DebugLevel)
	defer out.Close()
	return jsonmessage.DisplayJSONMessagesStream(rc, out, 0, false, nil)
}
