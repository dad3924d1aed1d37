package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jun/gophsync/internal/config"
	"github.com/jun/gophsync/internal/crypto"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", a.configPath)
			return config.Write(cmd.OutOrStdout(), a.cfg)
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long:  "Change one setting. Keys:\n  " + strings.Join(config.Keys(), "\n  "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(a.configPath, a.cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

func (a *app) keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the key encrypting the local state",
	}
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create an age identity and enable encryption",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Encryption.IdentityPath
			recipient, err := crypto.GenerateAgeIdentity(path)
			if err != nil {
				return err
			}
			a.cfg.Encryption.Type = "age"
			if err := config.Save(a.configPath, a.cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity written to %s\nPublic key: %s\n", path, recipient)
			fmt.Fprintln(cmd.OutOrStdout(), "State written from now on is encrypted; run \"gophsync connect\" again.")
			return nil
		},
	}
	cmd.AddCommand(generate)
	return cmd
}
