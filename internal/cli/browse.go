package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/navigator"
	"github.com/jun/gophsync/internal/state"
	"github.com/jun/gophsync/internal/syncrun"
)

const browseHelp = `Commands:
  cd <n>      enter folder n
  up          go to the parent folder
  crumb <i>   jump to breadcrumb i (0 is the first folder, "root" the drive root)
  pick <n>    select folder n without entering it
  unpick      clear the selection
  ok          confirm the selection (or the current folder) and save it
  ls          show the listing again
  quit        leave without saving`

func (a *app) browseCmd() *cobra.Command {
	var foldersOnly bool
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Choose the folder to sync interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			nav := navigator.New(env.Tree, env.Logger)
			if err := nav.Open(ctx); err != nil {
				return err
			}
			sel, ok, err := runBrowser(ctx, nav, cmd.InOrStdin(), cmd.OutOrStdout(), foldersOnly)
			if err != nil || !ok {
				return err
			}

			sc := state.DefaultSyncConfig()
			existing, err := env.State.SyncConfig(ctx)
			if err != nil {
				return err
			}
			if existing != nil {
				sc = *existing
			}
			sc.FolderID = sel.ID
			sc.FolderPath = sel.Path
			if err := env.State.SaveSyncConfig(ctx, sc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sync folder set to %s\n", sel.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&foldersOnly, "folders-only", false, "Hide files in listings")
	return cmd
}

// runBrowser drives nav from line commands on in until a folder is confirmed (ok is
// true) or the input ends. Item numbers refer to the listing as printed.
func runBrowser(ctx context.Context, nav *navigator.Navigator, in io.Reader, out io.Writer, foldersOnly bool) (model.FolderSelection, bool, error) {
	view := func() navigator.Snapshot {
		s := nav.Snapshot()
		if foldersOnly {
			s.Listing = adapter.FoldersOnly(s.Listing)
		}
		return s
	}
	printSnapshot(out, view())
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return model.FolderSelection{}, false, scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		snap := view()

		var err error
		switch fields[0] {
		case "cd", "enter":
			var item model.RemoteItem
			if item, err = pickItem(snap.Listing, fields); err == nil {
				err = nav.Enter(ctx, item)
			}
		case "up":
			err = nav.GoToBreadcrumb(ctx, len(snap.Breadcrumbs)-2)
		case "crumb", "root":
			idx := navigator.Root
			if fields[0] == "crumb" && len(fields) > 1 && fields[1] != "root" {
				idx, err = strconv.Atoi(fields[1])
			}
			if err == nil {
				err = nav.GoToBreadcrumb(ctx, idx)
			}
		case "pick":
			var item model.RemoteItem
			if item, err = pickItem(snap.Listing, fields); err == nil {
				err = nav.Pick(item)
			}
		case "unpick":
			nav.ClearPick()
		case "ok", "confirm":
			sel, err := nav.Confirm()
			if err == nil {
				return sel, true, nil
			}
			fmt.Fprintln(out, "error:", err)
			continue
		case "ls":
		case "quit", "exit":
			return model.FolderSelection{}, false, nil
		case "help", "?":
			fmt.Fprintln(out, browseHelp)
			continue
		default:
			fmt.Fprintf(out, "unknown command %q (type help)\n", fields[0])
			continue
		}

		if err != nil {
			if errors.Is(err, ctx.Err()) {
				return model.FolderSelection{}, false, err
			}
			fmt.Fprintln(out, "error:", err)
			continue
		}
		printSnapshot(out, view())
	}
}

func pickItem(listing []model.RemoteItem, fields []string) (model.RemoteItem, error) {
	if len(fields) < 2 {
		return model.RemoteItem{}, errors.New("missing item number")
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 1 || n > len(listing) {
		return model.RemoteItem{}, fmt.Errorf("no item %q", fields[1])
	}
	return listing[n-1], nil
}

func printSnapshot(out io.Writer, s navigator.Snapshot) {
	crumbs := []string{"root"}
	for i, c := range s.Breadcrumbs {
		crumbs = append(crumbs, fmt.Sprintf("[%d] %s", i, c.Name))
	}
	fmt.Fprintln(out, strings.Join(crumbs, " > "))

	for i, it := range s.Listing {
		marker := " "
		if s.Selection != nil && s.Selection.ID == it.ID {
			marker = "*"
		}
		if it.IsFolder() {
			fmt.Fprintf(out, "%s%3d  %s/  (%d items)\n", marker, i+1, it.Name, it.ChildCount)
		} else {
			fmt.Fprintf(out, "%s%3d  %s  %s\n", marker, i+1, it.Name, syncrun.FormatSize(it.Size))
		}
	}
	if len(s.Listing) == 0 {
		fmt.Fprintln(out, "  (empty)")
	}
}
