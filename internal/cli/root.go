// Package cli implements the gophsync command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jun/gophsync/internal/config"
)

// app carries the state shared by every command of one invocation.
type app struct {
	open       openFunc
	openURL    func(string) // launches a browser; nil only prints the URL
	configPath string
	baseDir    string
	verbose    bool
	demo       bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd returns the gophsync command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(Open, nil)
}

func newRootCmd(open openFunc, openURL func(string)) *cobra.Command {
	a := &app{open: open, openURL: openURL}

	root := &cobra.Command{
		Use:           "gophsync",
		Short:         "Connect a cloud drive to a document inbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $GOPHSYNC_CONFIG or ~/.config/gophsync.toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.demo, "demo", false, "Use the built-in demo drive")

	root.AddCommand(
		a.connectCmd(),
		a.disconnectCmd(),
		a.statusCmd(),
		a.browseCmd(),
		a.lsCmd(),
		a.searchCmd(),
		a.recentCmd(),
		a.changesCmd(),
		a.drivesCmd(),
		a.subscribeCmd(),
		a.syncCmd(),
		a.configCmd(),
		a.keyCmd(),
	)
	return root
}

func (a *app) load(stderr io.Writer) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfgPath, baseDir, err := config.Paths()
	if err != nil {
		return err
	}
	if a.configPath == "" {
		a.configPath = cfgPath
	}
	a.baseDir = baseDir

	cfg, err := config.Load(a.configPath, baseDir)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// env validates the configuration and opens the environment. The caller must Close it.
func (a *app) env(ctx context.Context) (*Env, error) {
	cfg := *a.cfg
	if a.demo {
		cfg.Demo = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s:\n%w", a.configPath, err)
	}
	return a.open(ctx, &cfg, a.baseDir, a.logger)
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
