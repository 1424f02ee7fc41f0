package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	seckillcache "github.com/huykn/seckill-cache"
	"github.com/huykn/seckill-cache/logger"
)

type app struct {
	configPath string
	debug      bool
	timeout    time.Duration

	log     *zap.SugaredLogger
	toolkit *seckillcache.Toolkit
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "seckillctl",
		Short:         "Operate the seckill cache and order pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (SECKILL_* environment variables override it)")
	flags.BoolVar(&a.debug, "debug", false, "verbose logging")
	flags.DurationVar(&a.timeout, "timeout", 10*time.Second, "timeout for each command")

	root.AddCommand(
		newPreloadCmd(a),
		newSubmitCmd(a),
		newNextIDCmd(a),
		newWarmCmd(a),
		newGetCmd(a),
	)
	return root
}

func (a *app) open() error {
	cfg, err := seckillcache.LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	var zl *zap.Logger
	if a.debug || cfg.DebugMode {
		zl, err = zap.NewDevelopment()
		cfg.DebugMode = true
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	a.log = zl.Sugar()

	cfg.Logger = logger.NewZap(a.log)
	// Nothing scrapes a one-shot command.
	cfg.EnableMetrics = false
	cfg.OnError = func(err error) { a.log.Debugw("background error", "error", err) }

	a.toolkit, err = seckillcache.New(cfg)
	return err
}

func (a *app) close() error {
	if a.toolkit == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	err := a.toolkit.Close(ctx)
	_ = a.log.Sync()
	return err
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}
