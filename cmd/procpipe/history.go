package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/procpipe/internal/history"
)

// historyLister is the slice of the repository the history commands use.
type historyLister interface {
	List(ctx context.Context, limit int) ([]history.Run, error)
}

func newHistoryCmd(g *globals) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return &usageError{err: errors.New("--limit must be at least 1")}
			}
			return withHistory(cmd.Context(), g, func(repo *history.SQLiteRepository) error {
				return listRuns(cmd.Context(), repo, limit, asJSON, g.stdout)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON")

	cmd.AddCommand(newHistoryShowCmd(g), newHistoryPruneCmd(g))
	return cmd
}

func newHistoryShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one run as JSON",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), g, func(repo *history.SQLiteRepository) error {
				run, err := repo.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(g.stdout, run)
			})
		},
	}
}

func newHistoryPruneCmd(g *globals) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than a cutoff",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return &usageError{err: errors.New("--older-than must be positive")}
			}
			return withHistory(cmd.Context(), g, func(repo *history.SQLiteRepository) error {
				n, err := repo.Prune(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(g.stdout, "pruned %d run(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest run to keep")
	return cmd
}

// withHistory opens the configured run database for the duration of fn.
func withHistory(ctx context.Context, g *globals, fn func(*history.SQLiteRepository) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return errors.New("run history is disabled (database.enabled: false)")
	}

	db, repo, err := openHistory(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(repo)
}

func listRuns(ctx context.Context, repo historyLister, limit int, asJSON bool, out io.Writer) error {
	runs, err := repo.List(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(out, runs)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATE\tEXIT\tDURATION\tCOMMAND")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.State,
			exitColumn(run),
			durationColumn(run),
			run.Command,
		)
	}
	return w.Flush()
}

func exitColumn(run history.Run) string {
	switch {
	case run.Signal != "":
		return run.Signal
	case run.ExitCode != nil:
		return strconv.Itoa(*run.ExitCode)
	default:
		return "-"
	}
}

func durationColumn(run history.Run) string {
	if run.EndedAt == nil {
		return "-"
	}
	return run.Duration().Round(time.Millisecond).String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
