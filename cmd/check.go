package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Carmen-Shannon/oxy-fluid/config"
	"github.com/Carmen-Shannon/oxy-fluid/engine/fluid"
	"github.com/Carmen-Shannon/oxy-fluid/engine/renderer/pipeline"
)

// checkCmd compiles every configured program on the CPU without opening a window
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compile every configured shader program without a GPU",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		return check(cfg, logger)
	},
}

// check runs the program front-end over every program and reports each failure.
func check(cfg config.Config, logger *zap.Logger) error {
	programs := fluid.Programs(cfg)
	failed := 0
	for _, p := range programs {
		shaders, err := pipeline.Frontend(p.Units)
		if err != nil {
			failed++
			logger.Error("program check failed", zap.String("program", p.Key), zap.Error(err))
			continue
		}
		logger.Info("program ok",
			zap.String("program", p.Key),
			zap.String("hash", fmt.Sprintf("%016x", pipeline.Hash(shaders))),
		)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d programs failed to compile", failed, len(programs))
	}
	return nil
}
