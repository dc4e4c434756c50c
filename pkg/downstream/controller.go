// Package downstream hands released images over to the DLC release pipeline
// and follows the pipeline execution until it ends.
package downstream

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/robert-cronin/imagerelease/pkg/engine"
	"github.com/robert-cronin/imagerelease/pkg/registry"
	"github.com/robert-cronin/imagerelease/pkg/types"
)

const (
	// DefaultRefreshInterval stays below the one hour limit of chained
	// role sessions.
	DefaultRefreshInterval = 1800 * time.Second
	DefaultPollInterval    = 60 * time.Second
)

var pipelineByDevice = map[types.Device]string{
	types.DeviceGPU:  "HFTgiReleasePipeline-huggingface-pytorch-tgi-inference-gpu",
	types.DeviceINF2: "HFTgiReleasePipeline-huggingface-pytorch-tgi-inference-neuronx",
}

type parameter struct {
	name  string
	value func(types.ReleaseEntry) string
}

var parametersByDevice = map[types.Device][]parameter{
	types.DeviceGPU: {
		{"/huggingface-pytorch-tgi/gpu/tgi-version", func(e types.ReleaseEntry) string { return e.Version }},
		{"/huggingface-pytorch-tgi/gpu/os-version", func(e types.ReleaseEntry) string { return e.OSVersion }},
		{"/huggingface-pytorch-tgi/gpu/cuda-version", func(e types.ReleaseEntry) string {
			if e.CudaVersion == nil {
				return ""
			}
			return *e.CudaVersion
		}},
		{"/huggingface-pytorch-tgi/gpu/python-version", func(e types.ReleaseEntry) string { return e.PythonVersion }},
		{"/huggingface-pytorch-tgi/gpu/pytorch-version", func(e types.ReleaseEntry) string { return e.PytorchVersion }},
	},
	types.DeviceINF2: {
		{"/huggingface-pytorch-tgi/neuronx/tgi-optimum-version", func(e types.ReleaseEntry) string { return e.Version }},
		{"/huggingface-pytorch-tgi/neuronx/os-version", func(e types.ReleaseEntry) string { return e.OSVersion }},
		{"/huggingface-pytorch-tgi/neuronx/python-version", func(e types.ReleaseEntry) string { return e.PythonVersion }},
		{"/huggingface-pytorch-tgi/neuronx/pytorch-version", func(e types.ReleaseEntry) string { return e.PytorchVersion }},
	},
}

// PipelineFor returns the downstream pipeline releasing images of device.
func PipelineFor(device types.Device) (string, error) {
	name, ok := pipelineByDevice[device]
	if !ok {
		return "", &types.UnknownPipelineError{Device: device}
	}
	return name, nil
}

// Deriver supplies the image URIs the controller moves.
type Deriver interface {
	StagingURI(entry types.ReleaseEntry) (string, error)
	DLCURIs(entry types.ReleaseEntry) ([]string, error)
}

type Options struct {
	RoleARN           string
	EnableExecution   bool
	EnableStatusCheck bool
	RefreshInterval   time.Duration
	PollInterval      time.Duration
	// PollTimeout bounds the status check. Zero waits for as long as the
	// pipeline runs.
	PollTimeout time.Duration
	Clock       clock.Clock
	// Sleep waits between status checks. It defaults to waiting on Clock.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) setDefaults() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
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

// Controller acts in the DLC account through an assumed role that is
// renewed before it expires.
type Controller struct {
	base    registry.Registry
	engine  engine.Engine
	deriver Deriver
	opts    Options

	dlc         registry.Registry
	lastRefresh time.Time
}

// New assumes the DLC role right away.
func New(ctx context.Context, base registry.Registry, eng engine.Engine, deriver Deriver, opts Options) (*Controller, error) {
	opts.setDefaults()
	c := &Controller{base: base, engine: eng, deriver: deriver, opts: opts}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) refresh(ctx context.Context) error {
	if c.dlc != nil && c.opts.Clock.Since(c.lastRefresh) <= c.opts.RefreshInterval {
		return nil
	}
	log.Infof("Refreshing AWS credentials for DLC integrations. Last refresh at: %v.", c.lastRefresh)
	dlc, _, err := c.base.AssumeRole(ctx, c.opts.RoleARN)
	if err != nil {
		return err
	}
	c.dlc = dlc
	c.lastRefresh = c.opts.Clock.Now()
	return nil
}

// StageImage pushes the local staging image to every DLC URI of entry.
func (c *Controller) StageImage(ctx context.Context, entry types.ReleaseEntry) error {
	staged, err := c.deriver.StagingURI(entry)
	if err != nil {
		return err
	}
	uris, err := c.deriver.DLCURIs(entry)
	if err != nil {
		return err
	}
	user, pass, err := c.dlc.Credentials(ctx, uris[0])
	if err != nil {
		return err
	}
	if err := c.engine.Login(ctx, user, pass, uris[0]); err != nil {
		return err
	}
	for _, uri := range uris {
		if err := c.engine.Tag(ctx, staged, uri); err != nil {
			return err
		}
		if err := c.engine.Push(ctx, uri); err != nil {
			return err
		}
	}
	return nil
}

// SetParameters publishes the version parameters the pipeline reads.
func (c *Controller) SetParameters(ctx context.Context, entry types.ReleaseEntry) error {
	params, ok := parametersByDevice[entry.Device]
	if !ok {
		return &types.NoParameterMappingError{Device: entry.Device}
	}
	for _, p := range params {
		if err := c.dlc.SetParameter(ctx, p.name, p.value(entry)); err != nil {
			return err
		}
	}
	return nil
}

// StartPipeline starts the pipeline of entry's device when execution is
// enabled and, if status checks are enabled, waits for it to succeed.
func (c *Controller) StartPipeline(ctx context.Context, entry types.ReleaseEntry) error {
	if !c.opts.EnableExecution {
		log.Infof("DLC pipeline execution is disabled, not starting a pipeline for %s.", entry)
		return nil
	}
	name, err := PipelineFor(entry.Device)
	if err != nil {
		return err
	}
	id, err := c.dlc.StartPipeline(ctx, name)
	if err != nil {
		return err
	}
	log.Infof("Started pipeline '%s' with execution ID: %s", name, id)
	if !c.opts.EnableStatusCheck {
		return nil
	}

	started := c.opts.Clock.Now()
	status := types.PipelineInProgress
	for status == types.PipelineInProgress {
		if c.opts.PollTimeout > 0 && c.opts.Clock.Since(started) >= c.opts.PollTimeout {
			return &types.PipelineTimeoutError{Pipeline: name, ExecutionID: id, Waited: c.opts.Clock.Since(started)}
		}
		if err := c.opts.Sleep(ctx, c.opts.PollInterval); err != nil {
			return err
		}
		if err := c.refresh(ctx); err != nil {
			return err
		}
		if status, err = c.dlc.PipelineStatus(ctx, name, id); err != nil {
			return err
		}
		log.Infof("Pipeline: '%s' with execution: %s has status: %s.", name, id, status)
	}
	if status != types.PipelineSuccessful {
		return &types.PipelineFailedError{Pipeline: name, ExecutionID: id, Status: status}
	}
	return nil
}

// Run stages the image, sets the parameters and runs the pipeline.
func (c *Controller) Run(ctx context.Context, entry types.ReleaseEntry) error {
	if err := c.StageImage(ctx, entry); err != nil {
		return err
	}
	if err := c.SetParameters(ctx, entry); err != nil {
		return err
	}
	return c.StartPipeline(ctx, entry)
}
