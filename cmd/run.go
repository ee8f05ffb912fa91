package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/manifoldco/promptui"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/allocator/internal/config"
	"github.com/spigell/allocator/internal/engine"
	"github.com/spigell/allocator/internal/logger"
	"github.com/spigell/allocator/internal/profile"
	"github.com/spigell/allocator/internal/publish"
	"github.com/spigell/allocator/internal/store"
)

const (
	PromptYes            = "Yes"
	PromptNo             = "No"
	PromptShowUnmatched  = "Show unmatched candidates"
	PromptShowQuotas     = "Show quota compliance"
	PromptReportToFile   = "Dump report to file"
	matchesCSV           = "matches.csv"
	unmatchedCSV         = "unmatched.csv"
	defaultReportPattern = "allocator-report-*.json"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Save the allocation?",
	Items: []string{PromptYes, PromptNo, PromptShowUnmatched, PromptShowQuotas, PromptReportToFile},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Allocate a dataset and write the report",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("input", "i", "", "dataset file with candidates and opportunities (yaml or json)")
	runCmd.Flags().StringP("output", "o", "", "write the canonical report to this file. Default is stdout.")
	runCmd.Flags().String("csv", "", "directory for matches.csv and unmatched.csv. Default is unset.")
	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before saving the allocation")
	runCmd.Flags().Bool("archive", false, "archive the run in the store configured under store.path")
	runCmd.Flags().Bool("publish", false, "publish the report to the NATS subject configured under publish")
	runCmd.Flags().StringSlice("skip-step", nil, "eligibility steps to skip, e.g. exclude_file")
	runCmd.Flags().StringP("exclude-file", "e", "", "file with candidate ids to exclude. Default is unset.")

	runCmd.MarkFlagRequired("input")
	viper.BindPFlag("eligibility.exclude-file", runCmd.Flags().Lookup("exclude-file"))
}

// outcome is one finished run with everything needed to save it.
type outcome struct {
	runID       string
	fingerprint string
	result      *engine.Result
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	base, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	cfg, err := getConfig()
	if err != nil {
		base.Fatal("getting a config", zap.Error(err))
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(cfg, "", "  ")
	base.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	input, _ := cmd.Flags().GetString("input")
	data, err := os.ReadFile(input)
	if err != nil {
		base.Fatal("reading dataset", zap.Error(err))
	}
	ds, err := profile.Parse(data)
	if err != nil {
		base.Fatal("parsing dataset", zap.Error(err), zap.String("file", input))
	}

	out := outcome{
		runID:       store.NewID(),
		fingerprint: store.Fingerprint(data, configDigest(cfg)),
	}
	base.Info("starting the allocator",
		append(logger.RunFields(out.runID, ds.Candidates.Len(), ds.Opportunities.Len()),
			zap.String("version", version),
			zap.String("fingerprint", out.fingerprint),
		)...,
	)
	runLogger := logger.WithRun(base, out.runID)

	e, cleanup, err := newEngine(ctx, cfg, runLogger)
	if err != nil {
		runLogger.Fatal("building the engine", zap.Error(err))
	}
	defer cleanup()

	skip, _ := cmd.Flags().GetStringSlice("skip-step")
	if len(skip) > 0 {
		e = e.WithDisabled(disabledSteps(skip))
	}

	out.result, err = e.Run(ctx, ds)
	if err != nil {
		runLogger.Fatal("exiting", zap.String("kind", string(engine.Classify(err))), zap.Error(err))
	}

	stats := out.result.Report.Stats
	runLogger.Info("allocation finished",
		zap.String("stage", string(out.result.Report.Stage)),
		zap.Int("matched", stats.Matched),
		zap.Int("unmatched", len(out.result.Report.Unmatched)),
		zap.Int("swaps", stats.Swaps),
		zap.Float64("efficiency", stats.Efficiency),
	)

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	action := PromptYes
	for {
		if !autoApprove {
			_, action, err = prompt.Run()
			if err != nil {
				runLogger.Fatal("exiting", zap.Error(err))
			}
		}

		if err := handleAction(ctx, cmd, action, cfg, out, runLogger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			runLogger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(ctx context.Context, cmd *cobra.Command, action string, cfg *config.Config, out outcome, logger *zap.Logger) error {
	r := out.result.Report
	switch action {
	case PromptYes:
		if err := save(ctx, cmd, cfg, out, logger); err != nil {
			return err
		}
		return errExit
	case PromptNo:
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptShowUnmatched:
		pretty, _ := json.MarshalIndent(r.Unmatched, "", "  ")
		logger.Info(string(pretty), zap.Int("unmatched count", len(r.Unmatched)))
		return nil
	case PromptShowQuotas:
		pretty, _ := json.MarshalIndent(r.Quotas, "", "  ")
		logger.Info(string(pretty), zap.Int("targets count", len(r.Quotas)))
		return nil
	case PromptReportToFile:
		filename, err := dumpToTmpFile(out.result.Canonical)
		if err != nil {
			return fmt.Errorf("dump report to file: %w", err)
		}
		logger.Info("dumping report to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// save writes the report and its CSV views, then archives and publishes the
// run when asked to.
func save(ctx context.Context, cmd *cobra.Command, cfg *config.Config, out outcome, logger *zap.Logger) error {
	r := out.result.Report

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		fmt.Println(string(out.result.Canonical))
	} else {
		if err := os.WriteFile(output, out.result.Canonical, 0o600); err != nil {
			return eris.Wrapf(err, "write report %s", output)
		}
		logger.Info("report written", zap.String("filename", output))
	}

	if dir, _ := cmd.Flags().GetString("csv"); dir != "" {
		if err := writeCSVFiles(dir, out); err != nil {
			return err
		}
		logger.Info("csv written", zap.String("dir", dir))
	}

	if archive, _ := cmd.Flags().GetBool("archive"); archive {
		if cfg.Store.Path == "" {
			return eris.New("--archive requires store.path")
		}
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		saved, err := db.Save(ctx, store.Record{
			ID:          out.runID,
			Fingerprint: out.fingerprint,
			Stage:       string(r.Stage),
			Matched:     r.Stats.Matched,
			Unmatched:   len(r.Unmatched),
			Report:      out.result.Canonical,
		})
		if err != nil {
			return err
		}
		logger.Info("run archived", zap.String("id", saved.ID), zap.String("store", cfg.Store.Path))
	}

	if pub, _ := cmd.Flags().GetBool("publish"); pub {
		if cfg.Publish.URL == "" {
			return eris.New("--publish requires publish.url")
		}
		p, err := publish.Connect(cfg.Publish.URL, cfg.Publish.Subject, cfg.Publish.Timeout, logger)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := p.Publish(ctx, publish.Report{
			RunID:       out.runID,
			Fingerprint: out.fingerprint,
			Stage:       string(r.Stage),
			Body:        out.result.Canonical,
		}); err != nil {
			return err
		}
	}

	logger.Info("allocation saved", zap.Int("matched", r.Stats.Matched))
	return nil
}

func writeCSVFiles(dir string, out outcome) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create csv dir %s", dir)
	}

	write := func(name string, fn func(f *os.File) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return eris.Wrapf(err, "create %s", name)
		}
		if err := fn(f); err != nil {
			f.Close()
			return eris.Wrapf(err, "write %s", name)
		}
		return f.Close()
	}

	r := out.result.Report
	if err := write(matchesCSV, func(f *os.File) error { return r.WriteMatchesCSV(f) }); err != nil {
		return err
	}
	return write(unmatchedCSV, func(f *os.File) error { return r.WriteUnmatchedCSV(f) })
}

func dumpToTmpFile(data []byte) (string, error) {
	f, err := os.CreateTemp("", defaultReportPattern)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func disabledSteps(names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = "skipped with --skip-step"
	}
	return out
}
