// Package orchestrator runs the PR, BUILD, TEST and RELEASE phases over the
// releases of one framework and device.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/robert-cronin/imagerelease/pkg/command"
	"github.com/robert-cronin/imagerelease/pkg/downstream"
	"github.com/robert-cronin/imagerelease/pkg/engine"
	"github.com/robert-cronin/imagerelease/pkg/registry"
	"github.com/robert-cronin/imagerelease/pkg/source"
	"github.com/robert-cronin/imagerelease/pkg/tags"
	"github.com/robert-cronin/imagerelease/pkg/types"
)

const (
	DefaultScanPollInterval = 15 * time.Second
	DefaultScanTimeout      = 900 * time.Second

	testPath       = "tests/huggingface"
	testOutputTail = 4096
)

// For testing.
var checkout = source.Checkout

type Options struct {
	WorkDir     string
	TestRoleARN string
	// ScanPollInterval is the wait between scan status checks.
	ScanPollInterval time.Duration
	ScanTimeout      time.Duration
	Downstream       downstream.Options
	Clock            clock.Clock
	// Sleep waits between scan status checks. It defaults to waiting on
	// Clock.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) setDefaults() {
	if o.ScanPollInterval <= 0 {
		o.ScanPollInterval = DefaultScanPollInterval
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = DefaultScanTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Downstream.Clock == nil {
		o.Downstream.Clock = o.Clock
	}
	if o.Sleep == nil {
		c := o.Clock
		o.Sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.After(d):
				return nil
			}
		}
	}
}

type Orchestrator struct {
	opts     Options
	set      *types.ReleaseConfigSet
	registry registry.Registry
	engine   engine.Engine
	runner   command.Runner
	deriver  *tags.Deriver
	profile  profile
}

// New prepares the phases for the releases in set, all of which share a
// framework.
func New(framework types.Framework, set *types.ReleaseConfigSet, reg registry.Registry, eng engine.Engine,
	runner command.Runner, deriver *tags.Deriver, opts Options) (*Orchestrator, error) {
	p, err := profileFor(framework)
	if err != nil {
		return nil, err
	}
	opts.setDefaults()
	return &Orchestrator{
		opts:     opts,
		set:      set,
		registry: reg,
		engine:   eng,
		runner:   runner,
		deriver:  deriver,
		profile:  p,
	}, nil
}

// Run executes the phases of mode. Releases are processed one at a time and
// the first failure stops the run.
func (o *Orchestrator) Run(ctx context.Context, mode types.Mode) error {
	log.Infof("Mode has been set to: %s.", mode)
	switch mode {
	case types.ModePR:
		return o.PR(ctx)
	case types.ModeBuild:
		return o.Build(ctx)
	case types.ModeTest:
		return o.Test(ctx)
	case types.ModeRelease:
		return o.Release(ctx)
	default:
		return &types.UnknownModeError{Mode: string(mode)}
	}
}

// PR builds and then tests.
func (o *Orchestrator) PR(ctx context.Context) error {
	if err := o.Build(ctx); err != nil {
		return err
	}
	return o.Test(ctx)
}

func (o *Orchestrator) Build(ctx context.Context) error {
	for _, entry := range o.set.Releases {
		if err := o.build(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) build(ctx context.Context, entry types.ReleaseEntry) error {
	logger := log.WithField("release", entry.String())
	logger.Info("Going to build image.")
	uri, err := o.deriver.StagingURI(entry)
	if err != nil {
		return err
	}
	exists, err := o.registry.ImageExists(ctx, uri)
	if err != nil {
		return err
	}
	if exists {
		logger.Infof("Skipping already built image '%s'.", uri)
		return nil
	}

	contextDir := o.opts.WorkDir
	if o.profile.needsExternal(entry.Device) {
		ext := *o.profile.external
		logger.Infof("Setting up build prerequisites for version: %s", entry.Version)
		contextDir, err = checkout(ctx, source.CheckoutRequest{
			External: ext,
			Tag:      fmt.Sprintf(ext.TagPattern, entry.Version),
			WorkDir:  o.opts.WorkDir,
			Overlay:  overlayDir,
		})
		if err != nil {
			return err
		}
	}

	dockerfile := o.deriver.DockerfilePath(entry)
	logger.Infof("Building Dockerfile: '%s'. This may take a while...", dockerfile)
	if err := o.engine.Build(ctx, engine.BuildRequest{
		ImageURI:   uri,
		Dockerfile: dockerfile,
		ContextDir: contextDir,
	}); err != nil {
		return err
	}
	return o.publish(ctx, uri, uri)
}

// publish logs in to the registry of the first of uris, then tags the local
// image src as each of uris and pushes it.
func (o *Orchestrator) publish(ctx context.Context, src string, uris ...string) error {
	user, pass, err := o.registry.Credentials(ctx, uris[0])
	if err != nil {
		return err
	}
	if err := o.engine.Login(ctx, user, pass, uris[0]); err != nil {
		return err
	}
	for _, uri := range uris {
		if uri != src {
			if err := o.engine.Tag(ctx, src, uri); err != nil {
				return err
			}
		}
		if err := o.engine.Push(ctx, uri); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) Test(ctx context.Context) error {
	for _, entry := range o.set.Releases {
		if err := o.test(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) test(ctx context.Context, entry types.ReleaseEntry) error {
	logger := log.WithField("release", entry.String())
	logger.Info("Going to test built image.")
	uri, err := o.deriver.StagingURI(entry)
	if err != nil {
		return err
	}
	_, creds, err := o.registry.AssumeRole(ctx, o.opts.TestRoleARN)
	if err != nil {
		return err
	}

	cmd := command.Command{
		WorkDir:    o.opts.WorkDir,
		Executable: "pytest",
		Args:       []string{"-m", entry.Device.String(), "-n", "auto", "--log-cli-level", "info", testPath},
		Env: map[string]string{
			"DEVICE_TYPE":           entry.Device.String(),
			"AWS_ACCESS_KEY_ID":     creds.AccessKeyID,
			"AWS_SECRET_ACCESS_KEY": creds.SecretAccessKey,
			"AWS_SESSION_TOKEN":     creds.SessionToken,
			"IMAGE_URI":             uri,
			"TEST_ROLE_ARN":         o.opts.TestRoleARN,
		},
	}
	logger.Infof("Running test command: %s %v.", cmd.Executable, cmd.Args)
	res, err := o.runner.Execute(ctx, cmd)
	if err != nil {
		return &types.ExternalCallError{Op: "run tests", Err: err}
	}
	if res.ExitCode != 0 {
		return &types.TestFailureError{
			Entry:    entry,
			ExitCode: res.ExitCode,
			Output:   command.Tail(res.Stderr, testOutputTail),
		}
	}
	logger.Info("Finished testing image.")

	if err := o.waitForScan(ctx, entry, uri); err != nil {
		return err
	}
	found, err := o.registry.ImageScanFindings(ctx, uri, sets.New(types.SeverityCritical), o.set.IgnoreVulnerabilities)
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return &types.VulnerabilityFoundError{ImageURI: uri, Entry: entry, Vulnerabilities: found}
	}
	logger.Infof("Finished checking vulnerabilities for image: %s.", uri)
	return nil
}

func (o *Orchestrator) waitForScan(ctx context.Context, entry types.ReleaseEntry, uri string) error {
	started := o.opts.Clock.Now()
	for {
		pending, err := o.registry.IsScanPending(ctx, uri)
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}
		if waited := o.opts.Clock.Since(started); waited > o.opts.ScanTimeout {
			return &types.ScanTimeoutError{ImageURI: uri, Entry: entry, Waited: waited}
		}
		log.Infof("Waiting for image scan results for image: %s.", uri)
		if err := o.opts.Sleep(ctx, o.opts.ScanPollInterval); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) Release(ctx context.Context) error {
	for _, entry := range o.set.Releases {
		if err := o.release(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, entry types.ReleaseEntry) error {
	logger := log.WithField("release", entry.String())
	logger.Info("Releasing image.")
	released, err := o.deriver.ReleasedURI(entry)
	if err != nil {
		return err
	}
	exists, err := o.registry.ImageExists(ctx, released)
	if err != nil {
		return err
	}
	if exists {
		logger.Infof("Skipping already released image '%s'.", released)
		return nil
	}

	staged, err := o.deriver.StagingURI(entry)
	if err != nil {
		return err
	}
	if err := o.pullFresh(ctx, staged); err != nil {
		return err
	}

	switch o.profile.release {
	case releaseDownstream:
		err = o.releaseDownstream(ctx, entry, staged, released)
	case releaseDirect:
		err = o.releaseDirect(ctx, entry, staged, released)
	}
	if err != nil {
		return err
	}
	logger.Infof("Release marked as complete: %s", released)
	return nil
}

// pullFresh clears local images and pulls the staging image.
func (o *Orchestrator) pullFresh(ctx context.Context, staged string) error {
	user, pass, err := o.registry.Credentials(ctx, staged)
	if err != nil {
		return err
	}
	if err := o.engine.Login(ctx, user, pass, staged); err != nil {
		return err
	}
	if err := o.engine.PruneAll(ctx); err != nil {
		return err
	}
	return o.engine.Pull(ctx, staged)
}

func (o *Orchestrator) releaseDownstream(ctx context.Context, entry types.ReleaseEntry, staged, released string) error {
	ctrl, err := downstream.New(ctx, o.registry, o.engine, o.deriver, o.opts.Downstream)
	if err != nil {
		return err
	}
	if err := ctrl.Run(ctx, entry); err != nil {
		return err
	}
	log.Infof("DLC pipeline completed for staged image URI: %s.", staged)
	return o.publish(ctx, staged, released)
}

func (o *Orchestrator) releaseDirect(ctx context.Context, entry types.ReleaseEntry, staged, released string) error {
	if err := o.publish(ctx, staged, released); err != nil {
		return err
	}
	uris, err := o.deriver.JumpStartURIs(entry)
	if err != nil {
		return err
	}
	if err := o.publish(ctx, staged, uris...); err != nil {
		return err
	}
	log.Infof("Published %s to %v.", staged, uris)
	return nil
}
