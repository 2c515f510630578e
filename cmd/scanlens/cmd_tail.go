package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scanlens/internal/notifystate"
	"scanlens/internal/output/findinghttp"
	"scanlens/pkg/models"
)

func newTailCmd(opts *rootOptions) *cobra.Command {
	var fromStart bool

	cmd := &cobra.Command{
		Use:   "tail RUN",
		Short: "Follow a run and print each appended record as a JSON line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			out := cmd.OutOrStdout()
			return a.service().Follow(ctx, args[0], !fromStart, func(ev models.Event) error {
				line, err := json.Marshal(ev.Raw)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(line))
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&fromStart, "from-start", false, "print existing records before following")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		url       string
		fromStart bool
		reset     bool
	)

	cmd := &cobra.Command{
		Use:   "watch RUN",
		Short: "Follow a run and post every new finding to a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			hook := a.cfg.ScanLens.Notify.HTTP
			if url != "" {
				hook.URL = url
			}
			w, err := findinghttp.NewWriter(findinghttp.Config{
				URL:     hook.URL,
				Timeout: hook.Timeout,
				Headers: hook.Headers,
			}, a.log)
			if err != nil {
				return err
			}

			if st := a.cfg.ScanLens.Notify.State; st.Addr != "" {
				ledger, err := notifystate.NewRedisStore(notifystate.RedisConfig{
					Addr:      st.Addr,
					Password:  st.Password,
					DB:        st.DB,
					KeyPrefix: st.KeyPrefix,
				})
				if err != nil {
					return err
				}
				defer ledger.Close()
				if reset {
					if err := ledger.Reset(cmd.Context(), args[0]); err != nil {
						return err
					}
				}
				w.UseLedger(ledger)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return w.Watch(ctx, a.service(), args[0], fromStart)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "webhook URL (overrides scanlens.notify.http.url)")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "also post findings already in the journal")
	cmd.Flags().BoolVar(&reset, "reset", false, "forget delivered findings recorded for this run")
	return cmd
}
