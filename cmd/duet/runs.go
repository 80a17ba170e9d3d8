package main

import (
	"errors"
	"fmt"

	"github.com/metalagman/duet/internal/config"
	"github.com/metalagman/duet/internal/engine"
	"github.com/metalagman/duet/internal/render"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage run history",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())
	cmd.AddCommand(runsPruneCmd())
	cmd.AddCommand(runsPurgeCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.RunsTable(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list, 0 for all")
	return cmd
}

func runsShowCmd() *cobra.Command {
	var (
		wrap     int
		noColour bool
	)
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			detail, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if detail.FinalPlan == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s %s\n", detail.RunID, detail.Status, detail.Error)
				return nil
			}

			res := &engine.Result{
				RunID:        detail.RunID,
				Request:      detail.Request,
				FinalPlan:    detail.FinalPlan,
				Termination:  engine.Termination(detail.Termination),
				Success:      detail.Success,
				Iterations:   detail.RunSummary.Iterations,
				Duration:     detail.Duration,
				InputTokens:  detail.InputTokens,
				OutputTokens: detail.OutputTokens,
			}
			for _, it := range detail.Iterations {
				res.History = append(res.History, engine.IterationRecord{
					Iteration: it.Iteration,
					Plan:      it.Plan,
					Critique:  it.Critique,
					Timestamp: it.CreatedAt,
				})
			}
			out, err := render.RenderMarkdown(render.Markdown(res), wrap, !noColour)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.Summary(res))
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&wrap, "wrap", 100, "markdown word wrap width")
	cmd.Flags().BoolVar(&noColour, "no-color", false, "disable colored output")
	return cmd
}

func runsPruneCmd() *cobra.Command {
	var (
		keepLast int
		keepDays int
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old runs from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policy := config.RetentionPolicy{KeepLast: keepLast, KeepDays: keepDays}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				policy = cfg.Storage.Retention
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return errors.New("set --keep-last or --keep-days (or configure storage.retention)")
			}

			store, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := store.PruneRuns(cmd.Context(), policy, dryRun)
			if err != nil {
				return err
			}
			mode := "deleted"
			if dryRun {
				mode = "would delete"
			}
			log.Info().Msgf("%s %d runs (kept %d of %d)", mode, res.Deleted, res.Kept, res.Considered)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N runs")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep runs newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}

func runsPurgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete all recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to purge without --yes")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.Purge(cmd.Context()); err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully purged all runs.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion of all runs")
	return cmd
}
