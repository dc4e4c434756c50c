package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/robert-cronin/imagerelease/pkg/config"
)

func main() {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()
	ctx = listenOSKillSignalsContext(ctx)

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	if err := newRootCmd(viper.New(), run).ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper, runFn func(context.Context, *config.Config) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imagerelease",
		Short: "Build, test and release model-serving container images",
		Long: `imagerelease runs one phase (PR, BUILD, TEST or RELEASE) over the releases
of one framework and device listed in the release config file.
Settings are read from the environment; flags take precedence.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			log.SetLevel(cfg.LogLevel)
			if err := cfg.Validate(cfg.Mode); err != nil {
				return err
			}
			return runFn(cmd.Context(), cfg)
		},
	}
	bindFlag(v, cmd, config.KeyMode, "", "phase to run: PR, BUILD, TEST or RELEASE")
	bindFlag(v, cmd, config.KeyReleaseConfigFile, "", "release config file")
	bindFlag(v, cmd, config.KeyLogLevel, "", "log level")
	return cmd
}

func bindFlag(v *viper.Viper, c *cobra.Command, name, value, help string) {
	c.Flags().String(name, value, help)
	if err := v.BindPFlag(name, c.Flags().Lookup(name)); err != nil {
		log.Fatalf("failed to bind flag %s: %v", name, err)
	}
}

func listenOSKillSignalsContext(ctx context.Context) context.Context {
	var cancelFunc context.CancelFunc
	ctx, cancelFunc = context.WithCancel(ctx)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-ch:
			log.Warnf("Received %s, cancelling.", sig)
			cancelFunc()
		case <-ctx.Done():
			return
		}
	}()
	return ctx
}
