package cmd

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/allocator/internal/eligibility"
	"github.com/spigell/allocator/internal/logger"
	"github.com/spigell/allocator/internal/profile"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate the config and a dataset without allocating",
	Run: func(cmd *cobra.Command, _ []string) {
		verify(cmd)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringP("input", "i", "", "dataset file to validate. Default is unset.")
}

func verify(cmd *cobra.Command) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	cfg, err := getConfig()
	if err != nil {
		logger.Fatal("config is invalid", zap.Error(err))
	}
	logger.Info("config is valid",
		zap.Int("targets", len(cfg.Quota.Targets)),
		zap.Bool("reconcile", cfg.Quota.Reconcile),
	)

	steps := eligibility.DefaultSteps()
	ecfg := cfg.EligibilityConfig()
	for _, step := range steps {
		if err := step.Validate(ecfg); err != nil {
			logger.Fatal("eligibility step is invalid", zap.String("name", step.Name()), zap.Error(err))
		}
	}
	for _, s := range eligibility.Describe(steps) {
		details := make([]string, 0, len(s.Details))
		for k, v := range s.Details {
			details = append(details, fmt.Sprintf("%s=%s", k, v))
		}
		logger.Info("eligibility step",
			zap.String("name", s.Name),
			zap.Bool("enabled", s.Enabled),
			zap.String("details", strings.Join(details, " ")),
		)
	}

	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		return
	}

	ds, err := profile.LoadFile(input)
	if err != nil {
		logger.Fatal("dataset is invalid", zap.Error(err), zap.String("file", input))
	}
	if err := ds.Validate(); err != nil {
		logger.Fatal("dataset is invalid", zap.Error(err), zap.String("file", input))
	}
	logger.Info("dataset is valid",
		zap.Int("candidates", ds.Candidates.Len()),
		zap.Int("opportunities", ds.Opportunities.Len()),
		zap.Int("capacity", ds.Opportunities.TotalCapacity()),
	)
}
