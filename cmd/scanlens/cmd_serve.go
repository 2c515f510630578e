package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scanlens/internal/pipeline"
	"scanlens/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr       string
		withIngest bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run snapshots, event pages and live streams over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			cfg := a.cfg.ScanLens.Server
			if addr != "" {
				cfg.Addr = addr
			}

			// Everything that can fail is built before the first goroutine starts.
			var p *pipeline.IngestPipeline
			if withIngest {
				p, err = a.ingestPipeline()
				if err != nil {
					return err
				}
				defer p.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			srv := server.New(a.service(), cfg, a.log)
			g.Go(func() error {
				return srv.ListenAndServe(ctx)
			})

			if p != nil {
				g.Go(func() error {
					if err := p.Run(ctx); err != nil && err != context.Canceled {
						return err
					}
					return nil
				})
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&withIngest, "with-ingest", false, "also run the Redis ingest pipeline")

	return cmd
}
