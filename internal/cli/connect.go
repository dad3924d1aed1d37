package cli

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/jun/gophsync/internal/auth"
	"github.com/jun/gophsync/internal/clock"
	"github.com/jun/gophsync/internal/model"
)

const connectTimeout = 5 * time.Minute

func (a *app) connectCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Authorize access to the cloud drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			out := cmd.OutOrStdout()
			if env.Tokens == nil {
				fmt.Fprintln(out, "Demo mode: no authorization needed.")
				return env.State.SaveUser(ctx, model.UserProfile{ID: "demo", DisplayName: "Demo User"})
			}

			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return fmt.Errorf("failed to generate state key: %w", err)
			}
			signer, err := auth.NewStateSigner(secret, clock.RealClock{})
			if err != nil {
				return err
			}
			flow, err := auth.NewFlowBuilder(env.Provider, env.Config.ClientID, env.Config.RedirectURI, signer)
			if err != nil {
				return err
			}
			redirect, err := url.Parse(flow.RedirectURI())
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", redirect.Host)
			if err != nil {
				return fmt.Errorf("failed to listen for the authorization redirect: %w", err)
			}

			authURL, issued, err := flow.AuthURL()
			if err != nil {
				ln.Close()
				return err
			}
			fmt.Fprintf(out, "Open this URL in your browser to connect %s:\n\n  %s\n\n", env.Provider.Name, authURL)
			if a.openURL != nil {
				go a.openURL(authURL)
			}

			wctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			outcome, err := auth.AwaitCallback(wctx, ln, redirect.Path, env.Logger)
			if err != nil {
				return fmt.Errorf("authorization not completed: %w", err)
			}
			if err := flow.ValidateState(issued, outcome.State); err != nil {
				return err
			}

			if _, err := env.Tokens.ExchangeCode(ctx, outcome.Code); err != nil {
				return err
			}
			if p, ok := env.Tree.(Profiler); ok {
				user, err := p.Me(ctx)
				if err == nil {
					if err := env.State.SaveUser(ctx, *user); err != nil {
						return err
					}
					fmt.Fprintf(out, "Connected as %s.\n", displayName(user))
					return nil
				}
				env.Logger.Warn("failed to load profile", "error", err)
			}
			fmt.Fprintln(out, "Connected.")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", connectTimeout, "How long to wait for the browser redirect")
	return cmd
}

func (a *app) disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the stored token, profile and sync configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if env.Tokens != nil {
				err = env.Tokens.Disconnect(ctx)
			} else {
				err = env.State.Disconnect(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Disconnected.")
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the connection and sync configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.env(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Provider:   %s\n", env.Provider.Name)
			switch {
			case env.Tokens == nil:
				fmt.Fprintln(out, "Connection: demo")
			case env.Connected(ctx):
				rec, err := env.State.Token(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Connection: connected (token expires %s)\n", rec.ExpiresAt.Local().Format(time.RFC1123))
			default:
				fmt.Fprintln(out, "Connection: not connected")
			}

			user, err := env.State.User(ctx)
			if err != nil {
				return err
			}
			if user != nil {
				fmt.Fprintf(out, "Account:    %s\n", displayName(user))
			}

			sc, err := env.State.SyncConfig(ctx)
			if err != nil {
				return err
			}
			if sc == nil || sc.FolderID == "" {
				fmt.Fprintln(out, "Folder:     none (run \"gophsync browse\")")
				return nil
			}
			fmt.Fprintf(out, "Folder:     %s (%s)\n", sc.FolderPath, sc.FolderID)
			fmt.Fprintf(out, "Extensions: %v\n", sc.FileExtensions)
			fmt.Fprintf(out, "Auto sync:  %t every %d min\n", sc.AutoSync, sc.SyncIntervalMinutes)
			if sc.LastSyncAt != nil {
				fmt.Fprintf(out, "Last sync:  %s\n", sc.LastSyncAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func displayName(u *model.UserProfile) string {
	switch {
	case u.DisplayName != "" && u.Mail != "":
		return fmt.Sprintf("%s <%s>", u.DisplayName, u.Mail)
	case u.DisplayName != "":
		return u.DisplayName
	case u.UserPrincipalName != "":
		return u.UserPrincipalName
	}
	return u.ID
}
