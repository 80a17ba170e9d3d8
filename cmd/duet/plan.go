package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/metalagman/duet/internal/config"
	"github.com/metalagman/duet/internal/contract"
	"github.com/metalagman/duet/internal/db"
	"github.com/metalagman/duet/internal/engine"
	"github.com/metalagman/duet/internal/render"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type outputFlags struct {
	out      string
	format   string
	noStore  bool
	wrap     int
	noColour bool
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the final plan as JSON to this file")
	cmd.Flags().StringVar(&f.format, "format", "summary", "output format: summary, markdown or json")
	cmd.Flags().BoolVar(&f.noStore, "no-store", false, "do not record the run in the history database")
	cmd.Flags().IntVar(&f.wrap, "wrap", 100, "markdown word wrap width")
	cmd.Flags().BoolVar(&f.noColour, "no-color", false, "disable colored output")
}

func planCmd() *cobra.Command {
	var (
		flags outputFlags
		file  string
	)
	cmd := &cobra.Command{
		Use:   "plan [request]",
		Short: "Refine a natural-language request into a validated tool plan",
		Example: `  duet plan "Create a mountain terrain with grass on midlands"
  duet plan --file request.txt --out plan.json
  echo "Create an island" | duet plan --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			request, err := readRequest(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			return refine(cmd, cfg, request, flags)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the request from a file, - for stdin")
	flags.register(cmd)
	return cmd
}

// readRequest takes the request from args, or from file when args are empty.
func readRequest(stdin io.Reader, file string, args []string) (string, error) {
	if len(args) > 0 && file != "" {
		return "", errors.New("pass the request as arguments or with --file, not both")
	}
	var request string
	switch {
	case len(args) > 0:
		request = strings.Join(args, " ")
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		request = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read request: %w", err)
		}
		request = string(data)
	}
	request = strings.TrimSpace(request)
	if request == "" {
		return "", errors.New("a request is required")
	}
	return request, nil
}

func refine(cmd *cobra.Command, cfg config.Config, request string, flags outputFlags) error {
	ctx := cmd.Context()
	switch flags.format {
	case "summary", "markdown", "json":
	default:
		return fmt.Errorf("unknown format %q", flags.format)
	}

	shutdown, err := startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(ctx) }()

	var (
		obs   engine.Observer
		store *db.Store
	)
	if !flags.noStore {
		var closeFn func()
		store, closeFn, err = openStore(cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		obs = db.NewRecorder(store)
	}

	e, err := buildEngine(ctx, cfg, obs)
	if err != nil {
		return err
	}
	res, err := e.Execute(ctx, request)
	if err != nil {
		return err
	}

	if flags.out != "" {
		if err := writePlanFile(flags.out, res.FinalPlan); err != nil {
			return err
		}
		log.Info().Str("path", flags.out).Msg("final plan written")
	}
	if store != nil {
		pruneAfterRun(cmd, store, cfg.Storage.Retention)
	}
	return printResult(cmd.OutOrStdout(), res, flags)
}

func printResult(w io.Writer, res *engine.Result, flags outputFlags) error {
	switch flags.format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "markdown":
		out, err := render.RenderMarkdown(render.Markdown(res), flags.wrap, !flags.noColour)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, out)
		return err
	default:
		text := render.StyledSummary(res)
		if flags.noColour {
			text = render.Summary(res)
		}
		_, err := fmt.Fprintln(w, text)
		return err
	}
}

func writePlanFile(path string, plan *contract.Plan) error {
	text, err := contract.SerializeIndent(plan)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

func pruneAfterRun(cmd *cobra.Command, store *db.Store, policy config.RetentionPolicy) {
	res, err := store.PruneRuns(cmd.Context(), policy, false)
	if err != nil {
		log.Warn().Err(err).Msg("prune run history")
		return
	}
	if res.Deleted > 0 {
		log.Debug().Int("deleted", res.Deleted).Int("kept", res.Kept).Msg("pruned run history")
	}
}
