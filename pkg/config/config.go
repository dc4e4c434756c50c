// Package config reads the process settings once from the environment (and
// any flags bound by the command) so deeper packages never consult os.Getenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/robert-cronin/imagerelease/pkg/orchestrator"
	"github.com/robert-cronin/imagerelease/pkg/releaseconfig"
	"github.com/robert-cronin/imagerelease/pkg/types"
)

// Keys shared with the command line flags.
const (
	KeyMode              = "mode"
	KeyLogLevel          = "log-level"
	KeyReleaseConfigFile = "config"

	keyFramework           = "framework"
	keyDevice              = "device"
	keyCommit              = "commit"
	keyStagingRepo         = "staging-repo"
	keyDLCRepo             = "dlc-repo"
	keyJumpStartRepo       = "jumpstart-repo"
	keyPipelineExecution   = "pipeline-execution"
	keyPipelineStatusCheck = "pipeline-status-check"
	keyDLCRole             = "dlc-role"
	keyTestRole            = "test-role"
	keyMaxJobs             = "max-jobs"
	keyPipelinePollTimeout = "pipeline-poll-timeout"
	keyScanPollInterval    = "scan-poll-interval"
	keyWorkDir             = "work-dir"
)

type setting struct {
	key string
	env string
	def string
}

var settings = []setting{
	{key: keyFramework, env: "FRAMEWORK"},
	{key: keyDevice, env: "DEVICE_TYPE"},
	{key: KeyMode, env: "MODE"},
	{key: keyCommit, env: "CODEBUILD_RESOLVED_SOURCE_VERSION"},
	{key: keyStagingRepo, env: "INTERNAL_STAGING_REPO_URI"},
	{key: keyDLCRepo, env: "DLC_ECR_REPO_URI"},
	{key: keyJumpStartRepo, env: "JS_ECR_REPO_URI"},
	{key: keyPipelineExecution, env: "DLC_ENABLE_PIPELINE_EXECUTION"},
	{key: keyPipelineStatusCheck, env: "DLC_ENABLE_PIPELINE_STATUS_CHECK"},
	{key: keyDLCRole, env: "DLC_ROLE_ARN"},
	{key: keyTestRole, env: "TEST_ROLE_ARN"},
	{key: keyMaxJobs, env: "DOCKER_MAX_JOBS", def: "4"},
	{key: KeyReleaseConfigFile, env: "RELEASE_CONFIG_FILE", def: releaseconfig.DefaultFile},
	{key: keyPipelinePollTimeout, env: "PIPELINE_POLL_TIMEOUT", def: "0"},
	{key: keyScanPollInterval, env: "SCAN_POLL_INTERVAL", def: orchestrator.DefaultScanPollInterval.String()},
	{key: KeyLogLevel, env: "LOG_LEVEL", def: log.InfoLevel.String()},
	{key: keyWorkDir, env: "WORK_DIR"},
}

type Config struct {
	Framework types.Framework
	Device    types.Device
	Mode      types.Mode
	// CommitOverride is the commit handed over by the build system. When
	// empty the HEAD of WorkDir is used.
	CommitOverride      string
	StagingRepoURI      string
	DLCRepoURI          string
	JumpStartRepoPrefix string

	EnablePipelineExecution   bool
	EnablePipelineStatusCheck bool

	DLCRoleARN  string
	TestRoleARN string

	DockerMaxJobs       int
	ReleaseConfigFile   string
	PipelinePollTimeout time.Duration
	ScanPollInterval    time.Duration
	LogLevel            log.Level
	WorkDir             string
}

// Load binds the environment variables to v and reads every setting.
// Values that cannot be parsed are reported together.
func Load(v *viper.Viper) (*Config, error) {
	for _, s := range settings {
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, errors.Wrapf(err, "failed to bind %s", s.env)
		}
		if s.def != "" {
			v.SetDefault(s.key, s.def)
		}
	}

	c := &Config{
		CommitOverride:            v.GetString(keyCommit),
		StagingRepoURI:            v.GetString(keyStagingRepo),
		DLCRepoURI:                v.GetString(keyDLCRepo),
		JumpStartRepoPrefix:       v.GetString(keyJumpStartRepo),
		EnablePipelineExecution:   enabled(v.GetString(keyPipelineExecution)),
		EnablePipelineStatusCheck: enabled(v.GetString(keyPipelineStatusCheck)),
		DLCRoleARN:                v.GetString(keyDLCRole),
		TestRoleARN:               v.GetString(keyTestRole),
		ReleaseConfigFile:         v.GetString(KeyReleaseConfigFile),
		WorkDir:                   v.GetString(keyWorkDir),
	}

	var result *multierror.Error
	var err error
	if s := v.GetString(keyFramework); s != "" {
		if c.Framework, err = types.ParseFramework(s); err != nil {
			result = multierror.Append(result, fmt.Errorf("FRAMEWORK: %w", err))
		}
	}
	if s := v.GetString(keyDevice); s != "" {
		if c.Device, err = types.ParseDevice(s); err != nil {
			result = multierror.Append(result, fmt.Errorf("DEVICE_TYPE: %w", err))
		}
	}
	if s := v.GetString(KeyMode); s != "" {
		if c.Mode, err = types.ParseMode(s); err != nil {
			result = multierror.Append(result, fmt.Errorf("MODE: %w", err))
		}
	}
	if c.DockerMaxJobs, err = strconv.Atoi(v.GetString(keyMaxJobs)); err != nil || c.DockerMaxJobs < 1 {
		result = multierror.Append(result, fmt.Errorf("DOCKER_MAX_JOBS: %q is not a positive integer", v.GetString(keyMaxJobs)))
	}
	if c.PipelinePollTimeout, err = parseDuration(v.GetString(keyPipelinePollTimeout)); err != nil {
		result = multierror.Append(result, fmt.Errorf("PIPELINE_POLL_TIMEOUT: %w", err))
	}
	if c.ScanPollInterval, err = parseDuration(v.GetString(keyScanPollInterval)); err != nil {
		result = multierror.Append(result, fmt.Errorf("SCAN_POLL_INTERVAL: %w", err))
	}
	if c.LogLevel, err = log.ParseLevel(v.GetString(KeyLogLevel)); err != nil {
		result = multierror.Append(result, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, &types.InvalidSettingsError{Err: err}
	}

	if c.WorkDir == "" {
		if c.WorkDir, err = os.Getwd(); err != nil {
			return nil, errors.Wrap(err, "failed to resolve working directory")
		}
	}
	return c, nil
}

// Validate reports every setting mode needs that is missing.
func (c *Config) Validate(mode types.Mode) error {
	var result *multierror.Error
	missing := func(name, value string) {
		if value == "" {
			result = multierror.Append(result, fmt.Errorf("%s is not set", name))
		}
	}

	missing("FRAMEWORK", string(c.Framework))
	if c.Device == types.DeviceUnknown {
		result = multierror.Append(result, errors.New("DEVICE_TYPE is not set"))
	}
	if _, err := types.ParseMode(string(mode)); err != nil {
		result = multierror.Append(result, err)
	}
	missing("INTERNAL_STAGING_REPO_URI", c.StagingRepoURI)

	switch mode {
	case types.ModePR, types.ModeTest:
		missing("TEST_ROLE_ARN", c.TestRoleARN)
	case types.ModeRelease:
		if c.Framework == types.FrameworkTGI {
			missing("DLC_ECR_REPO_URI", c.DLCRepoURI)
			missing("DLC_ROLE_ARN", c.DLCRoleARN)
		} else {
			missing("JS_ECR_REPO_URI", c.JumpStartRepoPrefix)
		}
	}
	if c.EnablePipelineStatusCheck && !c.EnablePipelineExecution {
		log.Warn("DLC_ENABLE_PIPELINE_STATUS_CHECK has no effect without DLC_ENABLE_PIPELINE_EXECUTION")
	}

	if err := result.ErrorOrNil(); err != nil {
		return &types.InvalidSettingsError{Err: err}
	}
	return nil
}

// enabled matches the "true" convention of the build system, in any case.
func enabled(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

// parseDuration accepts Go durations and bare integers as seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%q is negative", s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%q is negative", s)
	}
	return d, nil
}
