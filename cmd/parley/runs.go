package main

import (
	"errors"
	"fmt"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/runs"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and prune persisted runs",
	}
	cmd.AddCommand(newRunsListCmd(opts), newRunsPruneCmd(opts))
	return cmd
}

func newRunsListCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := runs.NewManager(opts.cfg.Runs.Dir)
			list, err := m.List(limit)
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs in", m.Dir())
				return nil
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tMODIFIED\tOUTCOME\tEVENTS\tDURATION")
			for _, info := range list {
				outcome, count, dur := "-", "-", "-"
				if s := info.Summary; s != nil {
					outcome = s.Outcome
					count = fmt.Sprint(s.EventCount)
					dur = fmt.Sprintf("%.2fs", s.DurationS)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					info.ID, info.Modified.Format("2006-01-02 15:04:05"), outcome, count, dur)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show, 0 for all")
	return cmd
}

func newRunsPruneCmd(opts *rootOptions) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete the oldest runs beyond the retention cap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = opts.cfg.Runs.Max
			}
			m := runs.NewManager(opts.cfg.Runs.Dir)
			n, err := m.Cleanup(keep)
			if errors.Is(err, fs.ErrNotExist) {
				n, err = 0, nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d run(s), keeping at most %d\n", n, keep)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "runs to keep (default runs.max)")
	return cmd
}
