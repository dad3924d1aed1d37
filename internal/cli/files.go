package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/syncrun"
)

// maxSubscriptionLifetime is the longest expiry Graph accepts for drive item subscriptions.
const maxSubscriptionLifetime = 42300 * time.Minute

func printItems(out io.Writer, items []model.RemoteItem) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, it := range items {
		name, size := it.Name, syncrun.FormatSize(it.Size)
		if it.IsFolder() {
			name += "/"
			size = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, size, it.ModifiedAt.Local().Format("2006-01-02 15:04"), it.ID)
	}
	return w.Flush()
}

func (a *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder by path (the drive root by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			var items []model.RemoteItem
			if len(args) == 0 || args[0] == "/" {
				items, err = env.Tree.ListRoot(ctx)
			} else {
				items, err = env.Tree.ListByPath(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), items)
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search the drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			items, err := env.Tree.Search(ctx, args[0])
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
				return nil
			}
			return printItems(cmd.OutOrStdout(), items)
		},
	}
}

func (a *app) recentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "List recently used files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			items, err := env.Tree.Recent(ctx)
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), items)
		},
	}
}

func (a *app) changesCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "changes [folder-id]",
		Short: "Show what changed in the sync folder since the last check",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			out := cmd.OutOrStdout()

			folderID, err := syncFolder(cmd, env, args)
			if err != nil {
				return err
			}
			if reset {
				if err := env.State.ClearDeltaCursor(ctx, folderID); err != nil {
					return err
				}
			}
			cursor, err := env.State.DeltaCursor(ctx, folderID)
			if err != nil {
				return err
			}

			page, err := env.Tree.Delta(ctx, folderID, cursor)
			var apiErr *adapter.RemoteAPIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusGone {
				env.Logger.Warn("delta cursor expired, starting over", "folder", folderID)
				if err := env.State.ClearDeltaCursor(ctx, folderID); err != nil {
					return err
				}
				cursor = ""
				page, err = env.Tree.Delta(ctx, folderID, "")
			}
			if err != nil {
				return err
			}

			if cursor == "" {
				fmt.Fprintf(out, "Baseline: %d items\n", len(page.Items))
			} else {
				for _, it := range page.Items {
					op := "changed"
					if it.Deleted {
						op = "deleted"
					}
					fmt.Fprintf(out, "%-8s %s\t%s\n", op, it.Name, it.ID)
				}
				if len(page.Items) == 0 {
					fmt.Fprintln(out, "No changes.")
				}
			}
			return env.State.SaveDeltaCursor(ctx, folderID, page.NextCursor)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Discard the saved cursor and take a new baseline")
	return cmd
}

func (a *app) drivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drives",
		Short: "List the drives of the signed-in account (OneDrive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			if env.Graph == nil {
				return errors.New("drives is only available for OneDrive")
			}

			drives, err := env.Graph.Drives(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range drives {
				used := "-"
				if d.Quota != nil {
					used = fmt.Sprintf("%s of %s", syncrun.FormatSize(d.Quota.Used), syncrun.FormatSize(d.Quota.Total))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.DriveType, used, d.ID)
			}
			return w.Flush()
		},
	}
}

func (a *app) subscribeCmd() *cobra.Command {
	var lifetime time.Duration
	cmd := &cobra.Command{
		Use:   "subscribe <notification-url>",
		Short: "Register a change notification webhook for the sync folder (OneDrive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			if env.Graph == nil {
				return errors.New("subscribe is only available for OneDrive")
			}
			folderID, err := syncFolder(cmd, env, nil)
			if err != nil {
				return err
			}
			if lifetime <= 0 || lifetime > maxSubscriptionLifetime {
				lifetime = maxSubscriptionLifetime
			}

			sub, err := env.Graph.CreateSubscription(ctx, model.Subscription{
				NotificationURL: args[0],
				ExpiresAt:       time.Now().Add(lifetime),
				ClientState:     uuid.NewString(),
			}, folderID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscription %s expires %s\nClient state: %s\n",
				sub.ID, sub.ExpiresAt.Local().Format(time.RFC1123), sub.ClientState)
			return nil
		},
	}
	cmd.Flags().DurationVar(&lifetime, "lifetime", maxSubscriptionLifetime, "Requested subscription lifetime")
	return cmd
}

// syncFolder returns the folder given as the first argument, else the configured sync folder.
func syncFolder(cmd *cobra.Command, env *Env, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	sc, err := env.State.SyncConfig(cmd.Context())
	if err != nil {
		return "", err
	}
	if sc == nil || sc.FolderID == "" {
		return "", errors.New("no sync folder configured (run \"gophsync browse\")")
	}
	return sc.FolderID, nil
}
