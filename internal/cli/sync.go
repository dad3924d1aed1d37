package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/state"
	"github.com/jun/gophsync/internal/syncrun"
)

func (a *app) syncCmd() *cobra.Command {
	var batchCap int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download eligible files from the sync folder into the inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			out := cmd.OutOrStdout()

			sc, err := env.State.SyncConfig(ctx)
			if err != nil {
				return err
			}
			if sc == nil || sc.FolderID == "" {
				return fmt.Errorf("no sync folder configured (run \"gophsync browse\")")
			}
			exts := sc.FileExtensions
			if len(exts) == 0 {
				exts = state.DefaultExtensions
			}

			sink, err := env.Sink(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("cap") {
				batchCap = env.Config.Sync.BatchCap
			}

			log := syncrun.NewLog(nil, nil)
			log.OnEntry(func(e model.SyncLogEntry) {
				line := fmt.Sprintf("%s  %-7s %s", e.Timestamp.Local().Format("15:04:05"), e.Kind, e.Message)
				if e.Details != "" {
					line += " (" + e.Details + ")"
				}
				fmt.Fprintln(out, line)
			})
			runner := syncrun.NewRunner(env.Tree, sink, log,
				syncrun.WithBatchCap(batchCap),
				syncrun.WithRetries(env.Config.Sync.Retries, time.Duration(env.Config.Sync.RetryBaseMS)*time.Millisecond),
				syncrun.WithLogger(env.Logger),
			)

			sum, err := runner.Run(ctx, sc.FolderID, exts)
			if err != nil {
				return err
			}
			env.Logger.Debug("sync summary", "listed", sum.Listed, "bytes", sum.Bytes, "duration", sum.Duration)

			now := time.Now().UTC()
			sc.LastSyncAt = &now
			return env.State.SaveSyncConfig(ctx, *sc)
		},
	}
	cmd.Flags().IntVar(&batchCap, "cap", 0, "Maximum files to process this run (0 = all; default from config)")
	return cmd
}
