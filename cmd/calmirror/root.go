package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/beekhof/calmirror/internal/config"
	"github.com/beekhof/calmirror/internal/logging"
)

// usageError reports malformed arguments. It is raised before any network
// activity and maps to exit status 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// exactArgs is cobra.ExactArgs reporting a usageError.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("%s accepts %d arg(s), received %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// app carries the state shared by all subcommands once flags are parsed.
type app struct {
	configFile string
	overrides  config.Overrides

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "calmirror",
		Short: "Mirrors timed events from one Google Calendar into another",
		Long: `calmirror copies the timed events of a source Google Calendar into a
destination calendar owned by a different Google account.

Each sync replaces a 30-day window of the destination (starting at --start-date,
today by default) with a copy of the source window. All-day events are skipped
and only summary, start and end are copied.

WARNING: every event in the destination window is deleted, including events
that were created by hand. Only use a dedicated destination calendar.

Run "calmirror auth src" and "calmirror auth dst" once to authorize both
accounts. The client secrets are read from credentials_src.json and
credentials_dst.json and the tokens are cached in token_src.json and
token_dst.json, all inside --credentials-dir.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configFile, a.overrides)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			a.logger = logging.New(cmd.ErrOrStderr(), cfg.Verbose)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate(`{{printf "calmirror version %s\n" .Version}}`)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Path to a YAML or JSON config file")
	flags.StringVar(&a.overrides.CredentialsDir, "credentials-dir", "", "Directory holding credentials_<target>.json and token_<target>.json (default \".\")")
	flags.StringVar(&a.overrides.APIEndpoint, "api-endpoint", "", "Override the Calendar API base URL")
	flags.StringVar(&a.overrides.CallbackAddr, "callback-addr", "", "Listen address for the authorization redirect (default \"127.0.0.1:0\")")
	flags.BoolVar(&a.overrides.NoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	flags.BoolVarP(&a.overrides.Verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newAuthCmd(a))
	cmd.AddCommand(newSyncCmd(a))
	return cmd
}
