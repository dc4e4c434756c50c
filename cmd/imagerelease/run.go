package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/robert-cronin/imagerelease/pkg/command"
	"github.com/robert-cronin/imagerelease/pkg/config"
	"github.com/robert-cronin/imagerelease/pkg/downstream"
	"github.com/robert-cronin/imagerelease/pkg/engine"
	"github.com/robert-cronin/imagerelease/pkg/orchestrator"
	"github.com/robert-cronin/imagerelease/pkg/registry"
	"github.com/robert-cronin/imagerelease/pkg/releaseconfig"
	"github.com/robert-cronin/imagerelease/pkg/tags"
	"github.com/robert-cronin/imagerelease/pkg/validation"
)

func run(ctx context.Context, cfg *config.Config) error {
	set, err := releaseconfig.LoadFile(cfg.ReleaseConfigFile, cfg.Framework, cfg.Device)
	if err != nil {
		return err
	}
	if err := validation.Validate(set); err != nil {
		return err
	}

	commit, err := tags.ResolveCommit(cfg.CommitOverride, cfg.WorkDir)
	if err != nil {
		return err
	}
	log.Infof("Using commit %s.", commit)
	deriver := tags.NewDeriver(tags.Context{
		CommitHash:          commit,
		StagingRepoURI:      cfg.StagingRepoURI,
		DLCRepoURI:          cfg.DLCRepoURI,
		JumpStartRepoPrefix: cfg.JumpStartRepoPrefix,
		WorkDir:             cfg.WorkDir,
	}, nil)

	reg, err := registry.NewAWS(ctx)
	if err != nil {
		return err
	}
	docker, err := engine.NewDocker(command.NewRunner(), cfg.DockerMaxJobs)
	if err != nil {
		return err
	}
	defer docker.Close()

	orch, err := orchestrator.New(cfg.Framework, set, reg, docker, command.NewRunner(), deriver, orchestrator.Options{
		WorkDir:          cfg.WorkDir,
		TestRoleARN:      cfg.TestRoleARN,
		ScanPollInterval: cfg.ScanPollInterval,
		Downstream: downstream.Options{
			RoleARN:           cfg.DLCRoleARN,
			EnableExecution:   cfg.EnablePipelineExecution,
			EnableStatusCheck: cfg.EnablePipelineStatusCheck,
			PollTimeout:       cfg.PipelinePollTimeout,
		},
	})
	if err != nil {
		return err
	}
	return orch.Run(ctx, cfg.Mode)
}
