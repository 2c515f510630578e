package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			list, err := a.service().List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, list)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCREATED\tEVENTS")
			for _, r := range list {
				created := "-"
				if r.CreatedAt != nil {
					created = r.CreatedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\n", r.ID, created, r.EventCount)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	var findingsOnly bool

	cmd := &cobra.Command{
		Use:   "snapshot RUN",
		Short: "Print the graph snapshot of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			svc := a.service()
			if findingsOnly {
				findings, err := svc.Findings(args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), findings)
			}

			snap, err := svc.Snapshot(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}

	cmd.Flags().BoolVar(&findingsOnly, "findings", false, "print only findings, most severe first")
	return cmd
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var offset, limit int

	cmd := &cobra.Command{
		Use:   "events RUN",
		Short: "Print a page of raw run events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.ScanLens.Server.DefaultPageSize
			}
			page, err := a.service().Page(args[0], offset, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), page)
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "index of the first event")
	cmd.Flags().IntVar(&limit, "limit", 200, "page size (1-1000)")
	return cmd
}
